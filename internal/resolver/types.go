package resolver

import (
	"math/big"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
)

// InitiateParams are the caller-supplied fields for initiate_evm_to_actor
// and initiate_actor_to_evm.
type InitiateParams struct {
	UserEvmAddress     identity.EvmAddress
	UserActorPrincipal identity.ActorPrincipal
	SourceTokenSymbol  string
	DestTokenSymbol    string
	Amount             *big.Int
	TimelockDuration   time.Duration
}

// SwapInitiationResult is the wire response of an initiate_* call.
type SwapInitiationResult struct {
	SwapID          string
	SourceEscrowRef string
	DestEscrowRef   string
	Instructions    string
}
