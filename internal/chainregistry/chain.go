// Package chainregistry holds the catalog of chain descriptors: identity,
// token metadata, and RPC endpoints for every chain the wallet can talk to.
// It is pure data with lookup and edit operations; connection state lives in
// chainconn.
package chainregistry

import (
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/pkg/validator"
	"github.com/gabapcia/walletflow/internal/tx"
)

// Chain describes one supported network. Descriptors are immutable once
// registered; edits go through UpsertChain which replaces the whole value.
type Chain struct {
	Slug   string    `json:"slug" validate:"required"`
	Family tx.Family `json:"family" validate:"required,oneof=substrate evm"`

	TokenSymbol   string `json:"tokenSymbol" validate:"required"`
	TokenDecimals uint8  `json:"tokenDecimals"`

	// ExistentialDeposit is the minimum balance a Substrate account must
	// keep to stay alive. Zero for EVM chains.
	ExistentialDeposit types.Amount `json:"existentialDeposit"`

	// EvmChainID is the numeric chain id used for EVM signing. Zero for
	// Substrate chains.
	EvmChainID uint64 `json:"evmChainId"`

	// SupportsTransferAll marks chains with native sweep semantics.
	SupportsTransferAll bool `json:"supportsTransferAll"`

	Endpoints       []string `json:"endpoints" validate:"required,min=1,dive,required"`
	CurrentEndpoint string   `json:"currentEndpoint"`
}

// validateChain checks a descriptor before it enters the catalog and
// normalizes the selected endpoint.
func validateChain(c *Chain) error {
	if err := validator.Validate(*c); err != nil {
		return err
	}

	found := false
	for _, e := range c.Endpoints {
		if e == c.CurrentEndpoint {
			found = true
			break
		}
	}
	if !found {
		c.CurrentEndpoint = c.Endpoints[0]
	}

	return nil
}
