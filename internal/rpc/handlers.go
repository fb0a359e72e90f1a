package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/resolver"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
)

// errorData surfaces an *orcherr.Error's Kind alongside the JSON-RPC
// error, so a caller can make the right retry decision without
// string-matching the message.
func errorData(err error) interface{} {
	var oe *orcherr.Error
	if errors.As(err, &oe) {
		return map[string]interface{}{"kind": string(oe.Kind), "retryable": oe.Kind.Retryable()}
	}
	return nil
}

// initiateParamsWire is the JSON wire shape of resolver.InitiateParams;
// the orchestrator's own type uses validating value types that don't
// round-trip through encoding/json directly.
type initiateParamsWire struct {
	UserEvmAddress     string `json:"user_evm_address"`
	UserActorPrincipal string `json:"user_actor_principal"`
	SourceTokenSymbol  string `json:"source_token_symbol"`
	DestTokenSymbol    string `json:"dest_token_symbol"`
	AmountDecimal      string `json:"amount"`
	TimelockSeconds    int64  `json:"timelock_seconds"`
}

func (w initiateParamsWire) parse() (resolver.InitiateParams, error) {
	var p resolver.InitiateParams
	evmAddr, err := identity.ParseEvmAddress(w.UserEvmAddress)
	if err != nil {
		return p, orcherr.Wrap(orcherr.InvalidInput, "parse user_evm_address", err)
	}
	principal, err := identity.ParsePrincipal(w.UserActorPrincipal)
	if err != nil {
		return p, orcherr.Wrap(orcherr.InvalidInput, "parse user_actor_principal", err)
	}
	amount, ok := new(big.Int).SetString(w.AmountDecimal, 10)
	if !ok {
		return p, orcherr.Invalid("invalid amount %q", w.AmountDecimal)
	}
	if w.TimelockSeconds <= 0 {
		return p, orcherr.Invalid("timelock_seconds must be positive")
	}
	p.UserEvmAddress = evmAddr
	p.UserActorPrincipal = principal
	p.SourceTokenSymbol = w.SourceTokenSymbol
	p.DestTokenSymbol = w.DestTokenSymbol
	p.Amount = amount
	p.TimelockDuration = time.Duration(w.TimelockSeconds) * time.Second
	return p, nil
}

func (s *Server) initiateEvmToActor(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var wire initiateParamsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	params, err := wire.parse()
	if err != nil {
		return nil, err
	}
	res, err := s.orch.InitiateEvmToActor(ctx, params)
	if err != nil {
		return nil, err
	}
	s.notifySwapStatus(res.SwapID)
	return res, nil
}

func (s *Server) initiateActorToEvm(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var wire initiateParamsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	params, err := wire.parse()
	if err != nil {
		return nil, err
	}
	res, err := s.orch.InitiateActorToEvm(ctx, params)
	if err != nil {
		return nil, err
	}
	s.notifySwapStatus(res.SwapID)
	return res, nil
}

type swapIDParams struct {
	SwapID string `json:"swap_id"`
}

func (s *Server) checkEscrowFunding(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p swapIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	funding, err := s.orch.CheckEscrowFunding(ctx, p.SwapID)
	if err != nil {
		return nil, err
	}
	s.notifySwapStatus(p.SwapID)
	return map[string]string{"swap_id": p.SwapID, "funding_status": string(funding)}, nil
}

type completeParams struct {
	SwapID string `json:"swap_id"`
	Caller string `json:"caller"`
}

func (s *Server) complete(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p completeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	if err := s.orch.Complete(ctx, p.SwapID, p.Caller); err != nil {
		return nil, err
	}
	s.notifySwapStatus(p.SwapID)
	return map[string]bool{"ok": true}, nil
}

func (s *Server) refundExpired(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p swapIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	if err := s.orch.RefundExpired(ctx, p.SwapID); err != nil {
		return nil, err
	}
	s.notifySwapStatus(p.SwapID)
	return map[string]bool{"ok": true}, nil
}

func (s *Server) getSwap(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p swapIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "decode params", err)
	}
	sw, err := s.orch.GetSwap(p.SwapID)
	if err != nil {
		return nil, err
	}
	return swapToWire(sw), nil
}

// swapWire is the read-only JSON projection of a *swap.Swap returned by
// get_swap; it never includes the live secret — that
// belongs to the swap's own lifecycle, not an external reader.
type swapWire struct {
	SwapID             string `json:"swap_id"`
	Direction          string `json:"direction"`
	Status             string `json:"status"`
	UserEvmAddress     string `json:"user_evm_address"`
	UserActorPrincipal string `json:"user_actor_principal"`
	SourceToken        string `json:"source_token"`
	DestToken          string `json:"dest_token"`
	Amount             string `json:"amount"`
	Timelock           int64  `json:"timelock"`
}

func swapToWire(sw *swap.Swap) swapWire {
	return swapWire{
		SwapID:             sw.SwapID,
		Direction:          string(sw.Direction),
		Status:             string(sw.GetStatus()),
		UserEvmAddress:     sw.UserEvmAddress.String(),
		UserActorPrincipal: sw.UserActorPrincipal.String(),
		SourceToken:        sw.SourceToken,
		DestToken:          sw.DestToken,
		Amount:             sw.Amount.String(),
		Timelock:           sw.Timelock.Unix(),
	}
}

// notifySwapStatus pushes a swap_status event over the WebSocket hub
// whenever a handler changes (or reads) a swap's status, so connected UIs
// stay current without polling get_swap.
func (s *Server) notifySwapStatus(swapID string) {
	if s.wsHub == nil {
		return
	}
	sw, err := s.orch.GetSwap(swapID)
	if err != nil {
		return
	}
	s.wsHub.Broadcast(EventSwapStatus, swapToWire(sw))
}
