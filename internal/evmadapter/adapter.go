package evmadapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/thresholdsig"
	"github.com/klingon-exchange/fusion-resolver/pkg/helpers"
	"github.com/klingon-exchange/fusion-resolver/pkg/logging"
)

// Adapter is the stateless EVM RPC client. It holds no swap
// state of its own; every mutating call re-derives nonce and gas price
// fresh, per the signing protocol.
type Adapter struct {
	rpcClient     *rpc.Client
	signer        thresholdsig.Signer
	signerKey     thresholdsig.KeyID
	chainID       *big.Int
	factoryAddr   common.Address
	log           *logging.Logger
}

// Config is the minimal set of parameters needed to dial a gateway and
// start signing through the threshold service.
type Config struct {
	RPCURL      string
	ChainID     *big.Int
	FactoryAddr common.Address
	Signer      thresholdsig.Signer
	SignerKey   thresholdsig.KeyID
}

// New dials the configured JSON-RPC gateway and returns an Adapter ready
// to serve reads and signed writes.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	client, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NetworkError, "dial EVM RPC gateway", err)
	}
	return &Adapter{
		rpcClient:   client,
		signer:      cfg.Signer,
		signerKey:   cfg.SignerKey,
		chainID:     cfg.ChainID,
		factoryAddr: cfg.FactoryAddr,
		log:         logging.GetDefault().Component("evmadapter"),
	}, nil
}

// classifyRPCError maps a raw JSON-RPC client error to the wire-level
// error taxonomy. Timeouts and
// context cancellation are transient; everything else surfaces as an
// external call error for the caller to judge.
func classifyRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return orcherr.Wrap(orcherr.NetworkError, op+" timed out", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return orcherr.Wrap(orcherr.NetworkError, op+" timed out", err)
	}
	return orcherr.Wrap(orcherr.ExternalCallError, op+" failed", err)
}

// GetBalance returns an EVM address's balance in wei, via eth_getBalance.
func (a *Adapter) GetBalance(ctx context.Context, addr identity.EvmAddress) (*big.Int, error) {
	var result hexutil.Big
	if err := a.rpcClient.CallContext(ctx, &result, "eth_getBalance", evmHex(addr), "latest"); err != nil {
		return nil, classifyRPCError("eth_getBalance", err)
	}
	return (*big.Int)(&result), nil
}

// GetNonce returns the next transaction nonce for addr, via
// eth_getTransactionCount.
func (a *Adapter) GetNonce(ctx context.Context, addr identity.EvmAddress) (uint64, error) {
	var result hexutil.Uint64
	if err := a.rpcClient.CallContext(ctx, &result, "eth_getTransactionCount", evmHex(addr), "pending"); err != nil {
		return 0, classifyRPCError("eth_getTransactionCount", err)
	}
	return uint64(result), nil
}

// GetGasPrice returns the network's current suggested gas price, via
// eth_gasPrice.
func (a *Adapter) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := a.rpcClient.CallContext(ctx, &result, "eth_gasPrice"); err != nil {
		return nil, classifyRPCError("eth_gasPrice", err)
	}
	return (*big.Int)(&result), nil
}

// GetTxReceipt returns the parsed receipt for a transaction hash, via
// eth_getTransactionReceipt. An absent receipt (transaction not yet
// mined) is a retryable NetworkError, not a protocol failure.
func (a *Adapter) GetTxReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var raw *types.Receipt
	if err := a.rpcClient.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, classifyRPCError("eth_getTransactionReceipt", err)
	}
	if raw == nil {
		return nil, orcherr.New(orcherr.NetworkError, "receipt not yet available, retry")
	}

	logs := make([]Log, len(raw.Logs))
	for i, l := range raw.Logs {
		logs[i] = Log{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return &Receipt{
		TxHash:      raw.TxHash,
		BlockNumber: raw.BlockNumber.Uint64(),
		Status:      raw.Status,
		Logs:        logs,
		GasUsed:     raw.GasUsed,
	}, nil
}

// Call performs a read-only contract call (eth_call) against the contract
// at address to, at the given block tag ("latest" if empty).
func (a *Adapter) Call(ctx context.Context, to common.Address, data []byte, block string) ([]byte, error) {
	if block == "" {
		block = "latest"
	}
	msg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var result hexutil.Bytes
	if err := a.rpcClient.CallContext(ctx, &result, "eth_call", msg, block); err != nil {
		return nil, classifyRPCError("eth_call", err)
	}
	return result, nil
}

// SendRaw submits a fully signed transaction and returns its
// network-assigned hash, via eth_sendRawTransaction.
func (a *Adapter) SendRaw(ctx context.Context, signedTx []byte) (common.Hash, error) {
	var hash common.Hash
	if err := a.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(signedTx)); err != nil {
		return common.Hash{}, classifyRPCError("eth_sendRawTransaction", err)
	}
	return hash, nil
}

// DeriveResolverAddress requests the resolver's operational public key
// for an empty derivation path and hashes it to a 20-byte EVM address.
func (a *Adapter) DeriveResolverAddress(ctx context.Context) (identity.EvmAddress, error) {
	pub, err := a.signer.PublicKey(ctx, a.signerKey)
	if err != nil {
		return identity.EvmAddress{}, orcherr.Wrap(orcherr.ExternalCallError, "fetch threshold public key", err)
	}
	addr, err := evmAddressFromCompressedPubKey(pub)
	if err != nil {
		return identity.EvmAddress{}, orcherr.Wrap(orcherr.ProcessingError, "derive resolver address", err)
	}
	return addr, nil
}

func evmAddressFromCompressedPubKey(compressed []byte) (identity.EvmAddress, error) {
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return identity.EvmAddress{}, fmt.Errorf("decompress public key: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return identity.EvmAddressFromBytes(addr.Bytes())
}

// BuildTimelocks is a documented placeholder: it returns the base
// timelock unchanged rather than the 1inch resolver contract's packed
// multi-stage Timelocks structure. Building the real packed format
// requires the 1inch resolver-contract documentation; the EVM-side
// escrow contract internals are an external collaborator here.
func (a *Adapter) BuildTimelocks(base uint64) uint64 {
	return base
}

func evmHex(addr identity.EvmAddress) string {
	return helpers.BytesToHex(addr.Bytes())
}
