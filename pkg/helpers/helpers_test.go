package helpers

import (
	"bytes"
	"math/big"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(100000000), 8, "1"},
		{big.NewInt(150000000), 8, "1.5"},
		{big.NewInt(12345678), 8, "0.12345678"},
		{big.NewInt(100000), 8, "0.001"},
		{big.NewInt(1), 8, "0.00000001"},
		{big.NewInt(0), 8, "0"},
		{big.NewInt(1000000000000000000), 18, "1"},
		{big.NewInt(500000000000000000), 18, "0.5"},
		{big.NewInt(123), 0, "123"},
		{nil, 8, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount(%v, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatAmountU128(t *testing.T) {
	// Amounts can exceed uint64.
	amount, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	got := FormatAmount(amount, 18)
	want := "340282366920938463463.374607431768211455"
	if got != want {
		t.Errorf("FormatAmount(u128 max, 18) = %s, want %s", got, want)
	}
}

func TestHexRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		hex  string
	}{
		{"empty", []byte{}, "0x"},
		{"single", []byte{0xab}, "0xab"},
		{"address-sized", bytes.Repeat([]byte{0x01}, 20), "0x0101010101010101010101010101010101010101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BytesToHex(tt.in); got != tt.hex {
				t.Errorf("BytesToHex = %s, want %s", got, tt.hex)
			}
			back, err := HexToBytes(tt.hex)
			if err != nil {
				t.Fatalf("HexToBytes: %v", err)
			}
			if !bytes.Equal(back, tt.in) {
				t.Errorf("HexToBytes(%s) = %x, want %x", tt.hex, back, tt.in)
			}
		})
	}
}

func TestHexToBytesNoPrefix(t *testing.T) {
	got, err := HexToBytes("deadbeef")
	if err != nil {
		t.Fatalf("HexToBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("HexToBytes(deadbeef) = %x", got)
	}
}

func TestHexToBytesInvalid(t *testing.T) {
	if _, err := HexToBytes("0xzz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}
