package ethereum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

// erc20TransferSelector is the 4-byte selector of transfer(address,uint256).
const erc20TransferSelector = "a9059cbb"

// CallEncoder turns typed payloads into the JSON call object the EVM client
// understands. Signing-side RLP assembly happens in the signer; the engine
// and fee estimation only need the call parameters.
type CallEncoder struct{}

func (CallEncoder) Encode(ctx context.Context, chain chainregistry.Chain, payload tx.Payload) ([]byte, error) {
	var obj callObject

	switch p := payload.(type) {
	case tx.NativeTransfer:
		if p.TransferAll {
			return nil, fmt.Errorf("evm chains cannot sweep the full balance: %s", chain.Slug)
		}
		obj = callObject{To: p.To, Value: hexAmount(p.Amount)}

	case tx.TokenTransfer:
		data, err := erc20TransferData(p.To, p.Amount)
		if err != nil {
			return nil, err
		}
		obj = callObject{To: p.AssetID, Data: data}

	case tx.EvmCall:
		obj = callObject{To: p.To, Data: "0x" + hex.EncodeToString(p.Data)}
		if !p.Value.IsZero() {
			obj.Value = hexAmount(p.Value)
		}

	default:
		return nil, fmt.Errorf("payload kind %s is not supported on evm chains", payload.Kind())
	}

	return json.Marshal(obj)
}

func hexAmount(a types.Amount) string {
	return "0x" + a.BigInt().Text(16)
}

// erc20TransferData builds the ABI-encoded calldata of an ERC-20 transfer:
// selector, then the recipient and amount left-padded to 32 bytes each.
func erc20TransferData(to string, amount types.Amount) (string, error) {
	recipient, err := hex.DecodeString(strip0x(to))
	if err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	if len(recipient) != 20 {
		return "", fmt.Errorf("recipient address %q is not 20 bytes", to)
	}

	value := amount.BigInt()
	if value.Sign() < 0 {
		return "", fmt.Errorf("amount must not be negative")
	}

	data := make([]byte, 0, 4+32+32)
	selector, _ := hex.DecodeString(erc20TransferSelector)
	data = append(data, selector...)
	data = append(data, leftPad32(recipient)...)
	data = append(data, leftPad32(value.Bytes())...)

	return "0x" + hex.EncodeToString(data), nil
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
