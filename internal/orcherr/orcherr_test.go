package orcherr

import (
	"errors"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{InvalidInput, false},
		{OrderNotFound, false},
		{ProcessingError, false},
		{ExternalCallError, true},
		{NetworkError, true},
		{InsufficientCycles, true},
		{ContractError, false},
	}
	for _, c := range cases {
		if got := c.kind.Retryable(); got != c.want {
			t.Errorf("%s.Retryable() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NetworkError, "rpc call failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find wrapped cause")
	}
	if KindOf(err) != NetworkError {
		t.Fatalf("KindOf = %v, want NetworkError", KindOf(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != ProcessingError {
		t.Fatalf("KindOf(plain error) should default to ProcessingError")
	}
}

func TestShorthands(t *testing.T) {
	if Invalid("bad %s", "address").Kind != InvalidInput {
		t.Fatal("Invalid should produce InvalidInput")
	}
	if NotFound("swap %s", "abc").Kind != OrderNotFound {
		t.Fatal("NotFound should produce OrderNotFound")
	}
	if Processing("mismatch").Kind != ProcessingError {
		t.Fatal("Processing should produce ProcessingError")
	}
}
