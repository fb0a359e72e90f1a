package evmadapter

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// factoryABIJSON describes the external EVM-side escrow factory's
// assumed call surface — deploySrc / deployDst / withdraw / cancel —
// and the SrcEscrowCreated/DstEscrowCreated events the deploy calls
// extract escrow addresses from.
// The contract's own internals are an external collaborator and out of
// scope; this ABI is the minimal surface this adapter calls against.
const factoryABIJSON = `[
	{
		"type": "function",
		"name": "deploySrc",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "hashlock", "type": "bytes32"},
			{"name": "timelock", "type": "uint256"}
		],
		"outputs": [{"name": "escrow", "type": "address"}]
	},
	{
		"type": "function",
		"name": "deployDst",
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "hashlock", "type": "bytes32"},
			{"name": "timelock", "type": "uint256"}
		],
		"outputs": [{"name": "escrow", "type": "address"}]
	},
	{
		"type": "function",
		"name": "withdraw",
		"inputs": [
			{"name": "escrow", "type": "address"},
			{"name": "secret", "type": "bytes32"},
			{"name": "immutables", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "cancel",
		"inputs": [
			{"name": "escrow", "type": "address"},
			{"name": "immutables", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "SrcEscrowCreated",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "hashlock", "type": "bytes32", "indexed": true}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "DstEscrowCreated",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "hashlock", "type": "bytes32", "indexed": true}
		],
		"anonymous": false
	}
]`

// factoryABI is parsed once at package init; packing/unpacking reuses
// this single parsed ABI instead of re-parsing per call.
var factoryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic("evmadapter: invalid embedded factory ABI: " + err.Error())
	}
	factoryABI = parsed
}
