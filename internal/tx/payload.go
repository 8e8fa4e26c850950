package tx

import "github.com/gabapcia/walletflow/internal/pkg/types"

// Kind enumerates the supported transaction intents.
type Kind string

const (
	KindNativeTransfer     Kind = "transfer.native"
	KindTokenTransfer      Kind = "transfer.token"
	KindCrossChainTransfer Kind = "transfer.xcm"
	KindNFTSend            Kind = "nft.send"
	KindStakingBond        Kind = "staking.bond"
	KindStakingUnbond      Kind = "staking.unbond"
	KindStakingWithdraw    Kind = "staking.withdraw"
	KindStakingClaim       Kind = "staking.claim"
	KindStakingCompound    Kind = "staking.compound"
	KindEvmCall            Kind = "evm.call"
	KindUnknown            Kind = "unknown"
)

// Payload is the typed transaction intent. Exactly one implementation exists
// per Kind, so consumers can switch exhaustively instead of casting a
// dynamic union.
type Payload interface {
	Kind() Kind
}

// NativeTransfer moves native tokens to a recipient. TransferAll requests
// sweep semantics where the chain supports them.
type NativeTransfer struct {
	To          string
	Amount      types.Amount
	TransferAll bool
}

func (NativeTransfer) Kind() Kind { return KindNativeTransfer }

// TokenTransfer moves a non-native asset, identified by its on-chain asset
// id (Substrate) or contract address (EVM).
type TokenTransfer struct {
	To      string
	AssetID string
	Symbol  string
	Amount  types.Amount
}

func (TokenTransfer) Kind() Kind { return KindTokenTransfer }

// CrossChainTransfer moves tokens to an account on another chain.
type CrossChainTransfer struct {
	To               string
	DestinationChain string
	Amount           types.Amount
}

func (CrossChainTransfer) Kind() Kind { return KindCrossChainTransfer }

// NFTSend transfers ownership of a single NFT item.
type NFTSend struct {
	To           string
	CollectionID string
	ItemID       string
}

func (NFTSend) Kind() Kind { return KindNFTSend }

// StakingBond locks tokens for staking.
type StakingBond struct {
	Amount types.Amount
}

func (StakingBond) Kind() Kind { return KindStakingBond }

// StakingUnbond schedules bonded tokens for release.
type StakingUnbond struct {
	Amount types.Amount
}

func (StakingUnbond) Kind() Kind { return KindStakingUnbond }

// StakingWithdraw withdraws previously unbonded tokens.
type StakingWithdraw struct{}

func (StakingWithdraw) Kind() Kind { return KindStakingWithdraw }

// StakingClaim claims accumulated staking rewards.
type StakingClaim struct{}

func (StakingClaim) Kind() Kind { return KindStakingClaim }

// StakingCompound restakes accumulated rewards.
type StakingCompound struct {
	Amount types.Amount
}

func (StakingCompound) Kind() Kind { return KindStakingCompound }

// EvmCall is a raw EVM contract call.
type EvmCall struct {
	To    string
	Data  []byte
	Value types.Amount
}

func (EvmCall) Kind() Kind { return KindEvmCall }

// UnknownPayload carries call data whose intent could not be classified.
type UnknownPayload struct{}

func (UnknownPayload) Kind() Kind { return KindUnknown }

// TransferredNative returns the native amount a payload moves out of the
// sender's account, excluding fees. Non-transfer intents move zero.
func TransferredNative(p Payload) types.Amount {
	switch v := p.(type) {
	case NativeTransfer:
		return v.Amount
	case CrossChainTransfer:
		return v.Amount
	case EvmCall:
		return v.Value
	case StakingBond:
		return v.Amount
	case StakingCompound:
		return v.Amount
	case TokenTransfer, NFTSend, StakingUnbond, StakingWithdraw, StakingClaim, UnknownPayload:
		return types.Amount{}
	default:
		return types.Amount{}
	}
}

// Destination returns the receiving address of a payload, or "" when the
// intent has no counterparty (staking, unknown).
func Destination(p Payload) string {
	switch v := p.(type) {
	case NativeTransfer:
		return v.To
	case TokenTransfer:
		return v.To
	case CrossChainTransfer:
		return v.To
	case NFTSend:
		return v.To
	case EvmCall:
		return v.To
	default:
		return ""
	}
}

// IsTransferAll reports whether the payload requests sweep semantics.
func IsTransferAll(p Payload) bool {
	v, ok := p.(NativeTransfer)
	return ok && v.TransferAll
}
