// Package txvalidate runs every admission check over a transaction draft and
// reports all findings at once. Checks never short-circuit: a draft failing
// the fee estimate still gets its payload and duplicate findings, so callers
// can surface the full picture in one round trip.
package txvalidate

import (
	"context"

	"github.com/gabapcia/walletflow/internal/balances"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

// PendingChecker reports whether an address already has an in-flight
// transaction on a chain. The lifecycle engine provides the implementation.
type PendingChecker interface {
	HasPending(address, chain string) bool
}

// SignerResolver answers whether the wallet can produce a signature for an
// address. Watch-only accounts cannot.
type SignerResolver interface {
	CanSign(address string) bool
}

// Check is an extra caller-supplied validation hook, run after the built-in
// checks. Findings are merged into the result.
type Check func(ctx context.Context, draft tx.Transaction) ([]tx.Error, []tx.Warning)

// Flags tune a single validation run.
type Flags struct {
	// IgnoreWarnings accepts a draft whose only findings are warnings.
	IgnoreWarnings bool

	// EDAsWarning demotes the existential-deposit finding from error to
	// warning, letting the user knowingly reap the account.
	EDAsWarning bool
}

// Result is the complete outcome of one validation run.
type Result struct {
	Errors   []tx.Error
	Warnings []tx.Warning

	// EstimatedFee is zero when fee estimation failed; the matching
	// ChainDisconnected finding is in Errors.
	EstimatedFee types.Amount

	// TransferredNative is the native amount the draft moves, used by the
	// balance and existential-deposit checks.
	TransferredNative types.Amount
}

// OK reports whether the draft may proceed under the given flags.
func (r Result) OK(flags Flags) bool {
	if len(r.Errors) > 0 {
		return false
	}
	return flags.IgnoreWarnings || len(r.Warnings) == 0
}

// Service validates transaction drafts.
type Service interface {
	Validate(ctx context.Context, draft tx.Transaction, flags Flags) Result
}

type service struct {
	registry chainregistry.Service
	apis     balances.ApiProvider
	balances balances.Service
	pending  PendingChecker
	signers  SignerResolver
	extra    []Check
}

var _ Service = (*service)(nil)

type config struct {
	extra []Check
}

type Option func(*config)

// WithCheck appends an extra validation hook.
func WithCheck(c Check) Option {
	return func(cfg *config) {
		cfg.extra = append(cfg.extra, c)
	}
}

// New builds the validation pipeline.
func New(
	registry chainregistry.Service,
	apis balances.ApiProvider,
	balanceReader balances.Service,
	pending PendingChecker,
	signers SignerResolver,
	opts ...Option,
) *service {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		registry: registry,
		apis:     apis,
		balances: balanceReader,
		pending:  pending,
		signers:  signers,
		extra:    cfg.extra,
	}
}

func (s *service) Validate(ctx context.Context, draft tx.Transaction, flags Flags) Result {
	result := Result{
		TransferredNative: tx.TransferredNative(draft.Payload),
	}

	chain, err := s.registry.Get(draft.Chain)
	if err != nil {
		result.Errors = append(result.Errors, tx.NewError(tx.ErrInvalidParams, "chain is not registered"))
		return result
	}

	s.checkDuplicate(&result, draft)
	s.checkPayload(&result, draft, chain)
	chainDown := s.checkFee(ctx, &result, draft)
	s.checkSigner(&result, draft)
	balance, balanceKnown := s.checkBalance(ctx, &result, draft, chainDown)
	s.checkExistentialDeposit(&result, draft, chain, balance, balanceKnown, flags)

	for _, check := range s.extra {
		errs, warns := check(ctx, draft)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warns...)
	}

	return result
}

// checkDuplicate refuses a second in-flight transaction for the same
// (address, chain) pair.
func (s *service) checkDuplicate(result *Result, draft tx.Transaction) {
	if s.pending != nil && s.pending.HasPending(draft.Address, draft.Chain) {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrDuplicateTransaction,
			"a transaction for this address is already in flight on this chain",
		))
	}
}

// checkPayload verifies the intent carries the fields its kind requires.
// A payload that could not be built at all reports Unsupported; malformed
// fields on an otherwise buildable payload report InvalidParams.
func (s *service) checkPayload(result *Result, draft tx.Transaction, chain chainregistry.Chain) {
	fail := func(msg string) {
		result.Errors = append(result.Errors, tx.NewError(tx.ErrInvalidParams, msg))
	}

	switch p := draft.Payload.(type) {
	case nil:
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrUnsupported, "transaction payload is missing"))
	case tx.NativeTransfer:
		if p.To == "" {
			fail("transfer destination is missing")
		}
		if p.TransferAll && !chain.SupportsTransferAll {
			// a sweep on a chain without transfer-all semantics can never
			// cover its own amount, so it surfaces as a balance failure
			result.Errors = append(result.Errors, tx.NewError(
				tx.ErrNotEnoughBalance, "chain does not support sweeping the full balance"))
		}
		if !p.TransferAll && p.Amount.Sign() <= 0 {
			fail("transfer amount must be positive")
		}
	case tx.TokenTransfer:
		if p.To == "" {
			fail("transfer destination is missing")
		}
		if p.Amount.Sign() <= 0 {
			fail("transfer amount must be positive")
		}
	case tx.CrossChainTransfer:
		if p.To == "" || p.DestinationChain == "" {
			fail("cross-chain destination is missing")
		}
		if p.Amount.Sign() <= 0 {
			fail("transfer amount must be positive")
		}
	case tx.NFTSend:
		if p.CollectionID == "" || p.ItemID == "" {
			result.Errors = append(result.Errors, tx.NewError(
				tx.ErrUnsupported, "nft to send was not found"))
		} else if p.To == "" {
			fail("nft destination is missing")
		}
	case tx.EvmCall:
		if p.To == "" {
			fail("call target is missing")
		}
	case tx.UnknownPayload:
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrUnsupported, "transaction intent could not be classified"))
	}
}

// checkFee estimates the network fee. A failure degrades to a
// ChainDisconnected finding with a zero fee; the remaining checks still run.
// It reports whether the chain was unreachable so later checks can avoid
// piling on duplicate findings.
func (s *service) checkFee(ctx context.Context, result *Result, draft tx.Transaction) bool {
	api, err := s.apis.GetApi(draft.Chain)
	if err != nil {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrChainDisconnected, "chain is disconnected, fee could not be estimated"))
		return true
	}

	fee, err := api.EstimateFee(ctx, draft.Call)
	if err != nil {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrChainDisconnected, "chain is disconnected, fee could not be estimated"))
		return true
	}

	result.EstimatedFee = fee
	return false
}

// checkSigner refuses drafts for addresses the wallet cannot sign for.
func (s *service) checkSigner(result *Result, draft tx.Transaction) {
	if s.signers != nil && !s.signers.CanSign(draft.Address) {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrInternalError, "account is watch-only and cannot sign"))
	}
}

// checkBalance verifies the sender can cover amount plus fee. Sweeps only
// need to cover the fee. When the chain is already known to be down the
// check is skipped rather than reporting a second disconnect.
func (s *service) checkBalance(ctx context.Context, result *Result, draft tx.Transaction, chainDown bool) (types.Amount, bool) {
	if chainDown || s.balances == nil {
		return types.Amount{}, false
	}

	balance, err := s.balances.FreeBalance(ctx, draft.Chain, draft.Address)
	if err != nil {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrChainDisconnected, "chain is disconnected, balance could not be read"))
		return types.Amount{}, false
	}

	required := result.TransferredNative.Add(result.EstimatedFee)
	if tx.IsTransferAll(draft.Payload) {
		required = result.EstimatedFee
	}

	if balance.Cmp(required) < 0 {
		result.Errors = append(result.Errors, tx.NewError(
			tx.ErrNotEnoughBalance, "balance does not cover amount and fee"))
	}

	return balance, true
}

// checkExistentialDeposit flags transfers that would leave the account below
// the chain's existential deposit. Sweeps intentionally empty the account
// and are exempt.
func (s *service) checkExistentialDeposit(
	result *Result,
	draft tx.Transaction,
	chain chainregistry.Chain,
	balance types.Amount,
	balanceKnown bool,
	flags Flags,
) {
	if !balanceKnown || chain.ExistentialDeposit.IsZero() || tx.IsTransferAll(draft.Payload) {
		return
	}

	remaining := balance.Sub(result.TransferredNative).Sub(result.EstimatedFee)
	if remaining.Sign() < 0 || remaining.Cmp(chain.ExistentialDeposit) >= 0 {
		return
	}

	const msg = "remaining balance falls below the existential deposit, the account would be reaped"
	if flags.EDAsWarning {
		result.Warnings = append(result.Warnings, tx.NewWarning(tx.ErrNotEnoughExistentialDeposit, msg))
		return
	}
	result.Errors = append(result.Errors, tx.NewError(tx.ErrNotEnoughExistentialDeposit, msg))
}
