// Package evmadapter implements the EVM adapter: a stateless client
// wrapping an external JSON-RPC gateway, treated purely as an RPC proxy
// (send a JSON-RPC request, get a JSON-RPC response). It builds, signs
// via the external threshold-ECDSA service, and submits EVM transactions against the
// EVM-side escrow factory/contract (also an external collaborator,
// assumed to expose deploySrc/deployDst/withdraw/cancel), and reads
// balances and receipts for the swap state machine's funding checks.
package evmadapter

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the typed response for eth_getTransactionReceipt, parsed
// once at the RPC boundary per the Design Notes ("define typed response
// structs per method; parse once at the boundary").
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64 // 1 = success, 0 = reverted
	Logs        []Log
	GasUsed     uint64
}

// Succeeded reports whether the receipt indicates a successful
// transaction.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

// Log is a single EVM event log entry.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Gas limits are fixed per call kind.
const (
	GasLimitETHTransfer   = uint64(21_000)
	GasLimitERC20Transfer = uint64(60_000)
	GasLimitFactoryDeploy = uint64(500_000)
)

// TxEnvelope is the minimal set of fields the signing protocol needs to
// build an EIP-1559 transaction before it is signed.
type TxEnvelope struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasLimit  uint64
	To        common.Address
	Value     *big.Int
	Data      []byte
}
