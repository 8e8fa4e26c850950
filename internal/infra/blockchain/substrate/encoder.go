package substrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/tx"
)

// call is the runtime call description handed to the signer, which owns the
// SCALE assembly. Pallet and method follow the runtime's naming.
type call struct {
	Pallet string         `json:"pallet"`
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// CallEncoder maps typed payloads onto runtime calls for Substrate chains.
type CallEncoder struct{}

func (CallEncoder) Encode(ctx context.Context, chain chainregistry.Chain, payload tx.Payload) ([]byte, error) {
	var c call

	switch p := payload.(type) {
	case tx.NativeTransfer:
		if p.TransferAll {
			c = call{
				Pallet: "balances",
				Method: "transfer_all",
				Args:   map[string]any{"dest": p.To, "keep_alive": false},
			}
			break
		}
		c = call{
			Pallet: "balances",
			Method: "transfer_keep_alive",
			Args:   map[string]any{"dest": p.To, "value": p.Amount.String()},
		}

	case tx.TokenTransfer:
		c = call{
			Pallet: "assets",
			Method: "transfer",
			Args:   map[string]any{"id": p.AssetID, "target": p.To, "amount": p.Amount.String()},
		}

	case tx.CrossChainTransfer:
		c = call{
			Pallet: "xcm_pallet",
			Method: "limited_reserve_transfer_assets",
			Args: map[string]any{
				"dest":        p.DestinationChain,
				"beneficiary": p.To,
				"amount":      p.Amount.String(),
			},
		}

	case tx.NFTSend:
		c = call{
			Pallet: "nfts",
			Method: "transfer",
			Args:   map[string]any{"collection": p.CollectionID, "item": p.ItemID, "dest": p.To},
		}

	case tx.StakingBond:
		c = call{
			Pallet: "staking",
			Method: "bond",
			Args:   map[string]any{"value": p.Amount.String(), "payee": "Staked"},
		}

	case tx.StakingUnbond:
		c = call{
			Pallet: "staking",
			Method: "unbond",
			Args:   map[string]any{"value": p.Amount.String()},
		}

	case tx.StakingWithdraw:
		c = call{
			Pallet: "staking",
			Method: "withdraw_unbonded",
			Args:   map[string]any{"num_slashing_spans": 0},
		}

	case tx.StakingClaim:
		c = call{
			Pallet: "staking",
			Method: "payout_stakers",
			Args:   map[string]any{},
		}

	case tx.StakingCompound:
		c = call{
			Pallet: "staking",
			Method: "bond_extra",
			Args:   map[string]any{"max_additional": p.Amount.String()},
		}

	default:
		return nil, fmt.Errorf("payload kind %s is not supported on substrate chains", payload.Kind())
	}

	return json.Marshal(c)
}
