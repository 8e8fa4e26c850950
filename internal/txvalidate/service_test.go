package txvalidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

type fakeChainApi struct {
	chainconn.ChainApi

	fee    types.Amount
	feeErr error
}

func (f *fakeChainApi) EstimateFee(ctx context.Context, call []byte) (types.Amount, error) {
	if f.feeErr != nil {
		return types.Amount{}, f.feeErr
	}
	return f.fee, nil
}

type fakeProvider struct {
	api *fakeChainApi
	err error
}

func (f *fakeProvider) GetApi(slug string) (chainconn.ChainApi, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.api, nil
}

type fakeBalances struct {
	balance types.Amount
	err     error
}

func (f *fakeBalances) FreeBalance(ctx context.Context, chain, address string) (types.Amount, error) {
	if f.err != nil {
		return types.Amount{}, f.err
	}
	return f.balance, nil
}

func (f *fakeBalances) Invalidate(ctx context.Context, chain, address string) {}

type fakePending struct{ pending bool }

func (f *fakePending) HasPending(address, chain string) bool { return f.pending }

type fakeSigners struct{ watchOnly bool }

func (f *fakeSigners) CanSign(address string) bool { return !f.watchOnly }

type fixture struct {
	provider *fakeProvider
	balances *fakeBalances
	pending  *fakePending
	signers  *fakeSigners
	registry chainregistry.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := chainregistry.New([]chainregistry.Chain{
		{
			Slug:                "westend",
			Family:              tx.FamilySubstrate,
			TokenSymbol:         "WND",
			TokenDecimals:       12,
			ExistentialDeposit:  types.NewAmount(10),
			SupportsTransferAll: true,
			Endpoints:           []string{"wss://rpc.example"},
		},
		{
			Slug:          "sepolia",
			Family:        tx.FamilyEVM,
			TokenSymbol:   "ETH",
			TokenDecimals: 18,
			EvmChainID:    11155111,
			Endpoints:     []string{"https://eth.example"},
		},
	}, nil)
	require.NoError(t, err)

	return &fixture{
		provider: &fakeProvider{api: &fakeChainApi{fee: types.NewAmount(1)}},
		balances: &fakeBalances{balance: types.NewAmount(100)},
		pending:  new(fakePending),
		signers:  new(fakeSigners),
		registry: registry,
	}
}

func (f *fixture) service(opts ...Option) *service {
	return New(f.registry, f.provider, f.balances, f.pending, f.signers, opts...)
}

func nativeTransfer(amount int64) tx.Transaction {
	return tx.Transaction{
		ID:      "westend.transfer.native.external.test",
		Address: "alice",
		Chain:   "westend",
		Family:  tx.FamilySubstrate,
		Kind:    tx.KindNativeTransfer,
		Payload: tx.NativeTransfer{To: "bob", Amount: types.NewAmount(amount)},
		Call:    []byte{0x01},
	}
}

func errorKinds(errs []tx.Error) []tx.ErrorKind {
	kinds := make([]tx.ErrorKind, 0, len(errs))
	for _, e := range errs {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestValidate(t *testing.T) {
	t.Run("accepts a covered transfer", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
		assert.Zero(t, result.EstimatedFee.Cmp(types.NewAmount(1)))
		assert.Zero(t, result.TransferredNative.Cmp(types.NewAmount(50)))
		assert.True(t, result.OK(Flags{}))
	})

	t.Run("is deterministic for the same draft", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		first := svc.Validate(context.Background(), nativeTransfer(50), Flags{})
		second := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Equal(t, errorKinds(first.Errors), errorKinds(second.Errors))
		assert.Equal(t, first.Warnings, second.Warnings)
	})

	t.Run("rejects a transfer that would reap the account", func(t *testing.T) {
		f := newFixture(t)
		f.balances.balance = types.NewAmount(51)
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		require.Len(t, result.Errors, 1)
		assert.Equal(t, tx.ErrNotEnoughExistentialDeposit, result.Errors[0].Kind)
		assert.False(t, result.OK(Flags{}))
	})

	t.Run("demotes the existential deposit finding to a warning on request", func(t *testing.T) {
		f := newFixture(t)
		f.balances.balance = types.NewAmount(51)
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{EDAsWarning: true})

		assert.Empty(t, result.Errors)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, tx.ErrNotEnoughExistentialDeposit, result.Warnings[0].Kind)
		assert.False(t, result.OK(Flags{EDAsWarning: true}))
		assert.True(t, result.OK(Flags{EDAsWarning: true, IgnoreWarnings: true}))
	})

	t.Run("rejects an uncovered transfer", func(t *testing.T) {
		f := newFixture(t)
		f.balances.balance = types.NewAmount(30)
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Contains(t, errorKinds(result.Errors), tx.ErrNotEnoughBalance)
	})

	t.Run("keeps running the other checks when the chain is down", func(t *testing.T) {
		f := newFixture(t)
		f.provider.err = chainconn.ErrChainDisconnected
		f.pending.pending = true
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		kinds := errorKinds(result.Errors)
		assert.Contains(t, kinds, tx.ErrChainDisconnected)
		assert.Contains(t, kinds, tx.ErrDuplicateTransaction)
		assert.True(t, result.EstimatedFee.IsZero())
	})

	t.Run("reports a single disconnect finding", func(t *testing.T) {
		f := newFixture(t)
		f.provider.api.feeErr = errors.New("rpc failed")
		f.balances.err = chainconn.ErrChainDisconnected
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		disconnects := 0
		for _, kind := range errorKinds(result.Errors) {
			if kind == tx.ErrChainDisconnected {
				disconnects++
			}
		}
		assert.Equal(t, 1, disconnects)
	})

	t.Run("rejects a duplicate in-flight transaction", func(t *testing.T) {
		f := newFixture(t)
		f.pending.pending = true
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Contains(t, errorKinds(result.Errors), tx.ErrDuplicateTransaction)
	})

	t.Run("rejects a watch-only account", func(t *testing.T) {
		f := newFixture(t)
		f.signers.watchOnly = true
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Contains(t, errorKinds(result.Errors), tx.ErrInternalError)
	})

	t.Run("rejects an unregistered chain outright", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		draft := nativeTransfer(50)
		draft.Chain = "mainnet"

		result := svc.Validate(context.Background(), draft, Flags{})

		require.Len(t, result.Errors, 1)
		assert.Equal(t, tx.ErrInvalidParams, result.Errors[0].Kind)
	})

	t.Run("runs extra caller checks", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(WithCheck(func(ctx context.Context, draft tx.Transaction) ([]tx.Error, []tx.Warning) {
			return nil, []tx.Warning{tx.NewWarning(tx.ErrUnsupported, "advisory only")}
		}))

		result := svc.Validate(context.Background(), nativeTransfer(50), Flags{})

		assert.Empty(t, result.Errors)
		require.Len(t, result.Warnings, 1)
		assert.True(t, result.OK(Flags{IgnoreWarnings: true}))
	})
}

func TestValidatePayloads(t *testing.T) {
	t.Run("rejects a missing payload", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		draft := nativeTransfer(50)
		draft.Payload = nil

		result := svc.Validate(context.Background(), draft, Flags{})
		assert.Contains(t, errorKinds(result.Errors), tx.ErrUnsupported)
	})

	t.Run("rejects an nft send without the item", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		draft := nativeTransfer(0)
		draft.Kind = tx.KindNFTSend
		draft.Payload = tx.NFTSend{To: "bob"}

		result := svc.Validate(context.Background(), draft, Flags{})

		require.NotEmpty(t, result.Errors)
		assert.Equal(t, tx.ErrUnsupported, result.Errors[0].Kind)
		assert.Contains(t, result.Errors[0].Message, "nft")
	})

	t.Run("rejects a sweep on a chain without sweep support as a balance failure", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		draft := nativeTransfer(0)
		draft.Chain = "sepolia"
		draft.Payload = tx.NativeTransfer{To: "bob", TransferAll: true}

		result := svc.Validate(context.Background(), draft, Flags{})
		assert.Contains(t, errorKinds(result.Errors), tx.ErrNotEnoughBalance)
		assert.NotContains(t, errorKinds(result.Errors), tx.ErrUnsupported)
	})

	t.Run("accepts a sweep that only covers the fee", func(t *testing.T) {
		f := newFixture(t)
		f.balances.balance = types.NewAmount(5)
		svc := f.service()

		draft := nativeTransfer(0)
		draft.Payload = tx.NativeTransfer{To: "bob", TransferAll: true}

		result := svc.Validate(context.Background(), draft, Flags{})
		assert.Empty(t, result.Errors)
	})

	t.Run("rejects a zero amount transfer", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()

		result := svc.Validate(context.Background(), nativeTransfer(0), Flags{})
		assert.Contains(t, errorKinds(result.Errors), tx.ErrInvalidParams)
	})
}
