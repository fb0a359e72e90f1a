package evmadapter

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// DeploySrcEscrow encodes and signs the factory's deploySrc call,
// submits it, and extracts the deployed escrow address from the
// receipt's SrcEscrowCreated log.
func (a *Adapter) DeploySrcEscrow(ctx context.Context, from identity.EvmAddress, user identity.EvmAddress, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error) {
	data, err := factoryABI.Pack("deploySrc",
		common.BytesToAddress(user.Bytes()),
		common.BytesToAddress(token.Bytes()),
		amount,
		hashlock,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return identity.EvmAddress{}, orcherr.Wrap(orcherr.InvalidInput, "pack deploySrc call", err)
	}
	return a.deployAndExtract(ctx, from, data, "SrcEscrowCreated")
}

// DeployDstEscrow is symmetric to DeploySrcEscrow.
func (a *Adapter) DeployDstEscrow(ctx context.Context, from identity.EvmAddress, recipient identity.EvmAddress, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error) {
	data, err := factoryABI.Pack("deployDst",
		common.BytesToAddress(recipient.Bytes()),
		common.BytesToAddress(token.Bytes()),
		amount,
		hashlock,
		new(big.Int).SetUint64(timelock),
	)
	if err != nil {
		return identity.EvmAddress{}, orcherr.Wrap(orcherr.InvalidInput, "pack deployDst call", err)
	}
	return a.deployAndExtract(ctx, from, data, "DstEscrowCreated")
}

func (a *Adapter) deployAndExtract(ctx context.Context, from identity.EvmAddress, data []byte, eventName string) (identity.EvmAddress, error) {
	txHash, err := a.signingProtocol(ctx, from, a.factoryAddr, nil, data, GasLimitFactoryDeploy)
	if err != nil {
		return identity.EvmAddress{}, err
	}
	receipt, err := a.GetTxReceipt(ctx, txHash)
	if err != nil {
		return identity.EvmAddress{}, err
	}
	if !receipt.Succeeded() {
		return identity.EvmAddress{}, orcherr.New(orcherr.ContractError, "factory deploy transaction reverted")
	}

	eventID := factoryABI.Events[eventName].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) < 1 || l.Topics[0] != eventID {
			continue
		}
		// escrow address is the first indexed topic.
		if len(l.Topics) < 2 {
			continue
		}
		escrowAddr := common.BytesToAddress(l.Topics[1].Bytes())
		return identity.EvmAddressFromBytes(escrowAddr.Bytes())
	}
	return identity.EvmAddress{}, orcherr.New(orcherr.ProcessingError, "deploy receipt missing "+eventName+" log")
}

// Withdraw reveals the preimage on-chain against the EVM-side escrow,
// claiming funds.
func (a *Adapter) Withdraw(ctx context.Context, from identity.EvmAddress, escrowAddr identity.EvmAddress, secret [32]byte, immutables []byte) (common.Hash, error) {
	data, err := factoryABI.Pack("withdraw", common.BytesToAddress(escrowAddr.Bytes()), secret, immutables)
	if err != nil {
		return common.Hash{}, orcherr.Wrap(orcherr.InvalidInput, "pack withdraw call", err)
	}
	return a.signingProtocol(ctx, from, a.factoryAddr, nil, data, GasLimitERC20Transfer)
}

// Cancel issues the post-expiry refund against the EVM-side escrow.
func (a *Adapter) Cancel(ctx context.Context, from identity.EvmAddress, escrowAddr identity.EvmAddress, immutables []byte) (common.Hash, error) {
	data, err := factoryABI.Pack("cancel", common.BytesToAddress(escrowAddr.Bytes()), immutables)
	if err != nil {
		return common.Hash{}, orcherr.Wrap(orcherr.InvalidInput, "pack cancel call", err)
	}
	return a.signingProtocol(ctx, from, a.factoryAddr, nil, data, GasLimitERC20Transfer)
}

// SendValue pre-funds an EVM escrow with native value directly (the
// resolver's half of an ActorToEvm swap, where the destination escrow
// lives on the EVM side and the resolver — not the user — is the
// depositor). It is a plain value transfer through the same signing
// protocol every other mutating call uses, with no call data.
func (a *Adapter) SendValue(ctx context.Context, from identity.EvmAddress, to identity.EvmAddress, value *big.Int) (common.Hash, error) {
	return a.signingProtocol(ctx, from, common.BytesToAddress(to.Bytes()), value, nil, GasLimitETHTransfer)
}
