package evmadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// signingProtocol is the path every mutating call takes: fetch nonce
// and gas price, construct the transaction envelope, compute the
// envelope digest with Keccak-256, submit the digest to the
// threshold-ECDSA service, receive a signature, recover the v byte,
// reassemble the signed RLP, submit via SendRaw.
func (a *Adapter) signingProtocol(ctx context.Context, from identity.EvmAddress, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := a.GetNonce(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := a.GetGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: gasPrice,
		GasFeeCap: gasPrice,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(a.chainID)
	digest := signer.Hash(tx) // Keccak-256 over the unsigned envelope.

	sig, err := a.signer.Sign(ctx, a.signerKey, digest)
	if err != nil {
		return common.Hash{}, orcherr.Wrap(orcherr.ExternalCallError, "threshold-ECDSA sign", err)
	}

	recovered, err := recoverAndAssemble(tx, signer, digest, sig, from)
	if err != nil {
		return common.Hash{}, orcherr.Wrap(orcherr.ProcessingError, "assemble signed transaction", err)
	}

	raw, err := recovered.MarshalBinary()
	if err != nil {
		return common.Hash{}, orcherr.Wrap(orcherr.ProcessingError, "encode signed transaction", err)
	}

	return a.SendRaw(ctx, raw)
}

// recoverAndAssemble tries both candidate recovery bytes (the threshold
// service returns only r || s, never v) and returns the
// signed transaction whose recovered sender matches the expected signer.
func recoverAndAssemble(tx *types.Transaction, signer types.Signer, digest common.Hash, sig interface{ Bytes() []byte }, want identity.EvmAddress) (*types.Transaction, error) {
	rs := sig.Bytes() // 64 bytes: r || s
	for _, v := range []byte{0, 1} {
		full := append(append([]byte{}, rs...), v)
		candidate, err := tx.WithSignature(signer, full)
		if err != nil {
			continue
		}
		sender, err := types.Sender(signer, candidate)
		if err != nil {
			continue
		}
		addr, err := identity.EvmAddressFromBytes(sender.Bytes())
		if err != nil {
			continue
		}
		if addr == want {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("no recovery byte produced the expected sender %s", want)
}
