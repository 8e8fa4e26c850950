// Package txengine drives every transaction through its lifecycle: admission,
// signing, submission, progress tracking, and terminal bookkeeping. It is the
// only writer of transaction state; everything else sees snapshots and
// events.
package txengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/walletflow/internal/balances"
	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txvalidate"
)

var (
	// ErrValidationFailed is returned by HandleTransaction when the draft
	// did not pass admission; the returned snapshot carries the findings.
	ErrValidationFailed = errors.New("transaction failed validation")

	// ErrTransactionNotFound is returned for unknown transaction ids.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrEngineClosed is returned once Close was called.
	ErrEngineClosed = errors.New("transaction engine is closed")
)

const (
	defaultSubmitTimeout = 5 * time.Minute

	// eventBuffer bounds each subscriber's queue. A subscriber that falls
	// this far behind loses events rather than stalling the engine.
	eventBuffer = 64
)

// CallEncoder turns a typed payload into the family-specific unsigned call
// bytes handed to the signer and the chain client.
type CallEncoder interface {
	Encode(ctx context.Context, chain chainregistry.Chain, payload tx.Payload) ([]byte, error)
}

// HistoryStore persists history projections. The engine only writes;
// queries live with the recovery sweep and the read APIs.
type HistoryStore interface {
	Upsert(ctx context.Context, items ...tx.HistoryItem) error
}

// WalletChecker reports whether an address belongs to this wallet, which
// decides whether a receiver-side history item is written.
type WalletChecker interface {
	IsWalletAddress(address string) bool
}

// Notifier receives every lifecycle event for UI delivery. Optional.
type Notifier interface {
	Notify(ctx context.Context, snapshot tx.Transaction, event tx.Event)
}

// PostProcessFunc runs after a transaction of its kind succeeds.
type PostProcessFunc func(ctx context.Context, snapshot tx.Transaction)

// Intent is a user's request to execute a transaction.
type Intent struct {
	Address string     `validate:"required"`
	Chain   string     `validate:"required"`
	Payload tx.Payload `validate:"required"`
	Flags   txvalidate.Flags
}

// Service is the transaction lifecycle engine.
type Service interface {
	// HandleTransaction validates, registers, and signs the intent, then
	// hands submission off to the background. It blocks only until the
	// transaction is signed or fails admission; progress streams on the
	// returned channel, which closes after the terminal event.
	HandleTransaction(ctx context.Context, intent Intent) (tx.Transaction, <-chan tx.Event, error)

	// GetTransaction returns a snapshot of a registered transaction.
	GetTransaction(id string) (tx.Transaction, error)

	// Subscribe attaches an additional watcher to a live transaction. The
	// cancel func detaches it.
	Subscribe(id string) (<-chan tx.Event, func(), error)

	// HasPending reports whether the address already has an in-flight
	// transaction on the chain. txvalidate consults it for the duplicate
	// check.
	HasPending(address, chain string) bool

	// Close cancels every timer and closes all event streams.
	Close()
}

// record is the engine's mutable view of one transaction. rec.mu guards the
// aggregate and the subscriber list; service.mu guards the maps.
//
// dispatchMu serializes transition application with event delivery, so
// subscribers observe events in the exact order transitions applied. Every
// close of a subscriber channel also happens under it, keeping delivery and
// teardown from racing. Lock order is dispatchMu before mu.
type record struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex
	t          *tx.Transaction
	subs       []chan tx.Event
	timer      *time.Timer
	done       bool
}

type service struct {
	mu      sync.Mutex
	byID    map[string]*record
	pending map[string]string // address/chain → transaction id
	closed  bool

	registry  chainregistry.Service
	apis      balances.ApiProvider
	validator txvalidate.Service
	signer    Signer
	encoders  map[tx.Family]CallEncoder
	history   HistoryStore
	wallet    WalletChecker
	notifier  Notifier
	bus       *eventbus.Bus

	postProcess   map[tx.Kind]PostProcessFunc
	submitTimeout time.Duration
}

var _ Service = (*service)(nil)

type config struct {
	notifier      Notifier
	postProcess   map[tx.Kind]PostProcessFunc
	submitTimeout time.Duration
}

type Option func(*config)

// WithNotifier sets the UI notification hook.
func WithNotifier(n Notifier) Option {
	return func(c *config) {
		c.notifier = n
	}
}

// WithPostProcess registers a hook to run after transactions of the given
// kind succeed.
func WithPostProcess(kind tx.Kind, fn PostProcessFunc) Option {
	return func(c *config) {
		c.postProcess[kind] = fn
	}
}

// WithSubmitTimeout overrides how long a submission may stay in flight
// before it is declared Unknown.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *config) {
		c.submitTimeout = d
	}
}

// New builds the engine. The validator is bound separately via UseValidator
// because it consults the engine's own pending set for the duplicate check.
func New(
	registry chainregistry.Service,
	apis balances.ApiProvider,
	signer Signer,
	encoders map[tx.Family]CallEncoder,
	history HistoryStore,
	wallet WalletChecker,
	bus *eventbus.Bus,
	opts ...Option,
) *service {
	cfg := config{
		postProcess:   make(map[tx.Kind]PostProcessFunc),
		submitTimeout: defaultSubmitTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		byID:          make(map[string]*record),
		pending:       make(map[string]string),
		registry:      registry,
		apis:          apis,
		signer:        signer,
		encoders:      encoders,
		history:       history,
		wallet:        wallet,
		notifier:      cfg.notifier,
		bus:           bus,
		postProcess:   cfg.postProcess,
		submitTimeout: cfg.submitTimeout,
	}
}

// UseValidator binds the admission pipeline. Must be called before the first
// HandleTransaction; it is separate from New so the validator can hold the
// engine as its duplicate checker.
func (s *service) UseValidator(v txvalidate.Service) {
	s.validator = v
}

func pendingKey(address, chain string) string {
	return address + "/" + chain
}

func (s *service) HandleTransaction(ctx context.Context, intent Intent) (tx.Transaction, <-chan tx.Event, error) {
	chain, err := s.registry.Get(intent.Chain)
	if err != nil {
		return tx.Transaction{}, nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	encoder, ok := s.encoders[chain.Family]
	if !ok {
		return tx.Transaction{}, nil, fmt.Errorf("%w: no encoder for family %s", ErrValidationFailed, chain.Family)
	}

	now := time.Now().UTC()
	draft := tx.Transaction{
		ID:        tx.NewID(intent.Chain, intent.Payload.Kind(), false),
		Address:   intent.Address,
		Chain:     intent.Chain,
		Family:    chain.Family,
		Kind:      intent.Payload.Kind(),
		Payload:   intent.Payload,
		Status:    tx.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	draft.Call, err = encoder.Encode(ctx, chain, intent.Payload)
	if err != nil {
		draft.AppendError(tx.NewError(tx.ErrInvalidParams, err.Error()))
		return draft, nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	result := s.validator.Validate(ctx, draft, intent.Flags)
	draft.Errors = append(draft.Errors, result.Errors...)
	draft.Warnings = append(draft.Warnings, result.Warnings...)
	draft.EstimatedFee = result.EstimatedFee

	if !result.OK(intent.Flags) {
		return draft, nil, ErrValidationFailed
	}

	rec, events, err := s.register(&draft)
	if err != nil {
		draft.AppendError(tx.NewError(tx.ErrDuplicateTransaction, err.Error()))
		return draft, nil, err
	}

	api, err := s.apis.GetApi(draft.Chain)
	if err != nil {
		s.remove(rec)
		draft.AppendError(tx.NewError(tx.ErrChainDisconnected, err.Error()))
		return draft, nil, err
	}

	signed, err := s.signer.Sign(ctx, rec.snapshot())
	if err != nil {
		return s.rejectSigning(ctx, rec, err)
	}

	s.dispatch(ctx, draft.ID, tx.Event{
		Name:          tx.EventSigned,
		TransactionID: draft.ID,
		At:            time.Now().UTC(),
	})

	rec.mu.Lock()
	rec.timer = time.AfterFunc(s.submitTimeout, func() {
		s.dispatch(context.Background(), draft.ID, tx.Event{
			Name:          tx.EventError,
			TransactionID: draft.ID,
			At:            time.Now().UTC(),
			Err:           &tx.Error{Kind: tx.ErrTimeout, Message: "submission timed out, final status unknown"},
		})
	})
	rec.mu.Unlock()

	go s.submit(context.WithoutCancel(ctx), draft.ID, api, signed)

	return rec.snapshot(), events, nil
}

// register inserts the transaction into the pending set, re-checking the
// duplicate invariant under the same lock so no second intent can slip in
// between validation and registration.
func (s *service) register(draft *tx.Transaction) (*record, <-chan tx.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrEngineClosed
	}

	key := pendingKey(draft.Address, draft.Chain)
	if id, exists := s.pending[key]; exists {
		if rec, ok := s.byID[id]; ok && rec.status().IsPending() {
			return nil, nil, tx.NewError(tx.ErrDuplicateTransaction,
				"a transaction for this address is already in flight on this chain")
		}
	}

	events := make(chan tx.Event, eventBuffer)
	rec := &record{
		t:    draft,
		subs: []chan tx.Event{events},
	}
	s.byID[draft.ID] = rec
	s.pending[key] = draft.ID

	return rec, events, nil
}

// rejectSigning handles a signer failure. A user rejection removes the
// transaction as if it never existed; any other failure fails it through
// the regular lifecycle so history and subscribers see it.
func (s *service) rejectSigning(ctx context.Context, rec *record, signErr error) (tx.Transaction, <-chan tx.Event, error) {
	if errors.Is(signErr, ErrSigningRejected) {
		snapshot := rec.snapshot()
		s.remove(rec)
		logger.Info(ctx, "transaction cancelled by signer rejection", "tx.id", snapshot.ID)
		return snapshot, nil, tx.NewError(tx.ErrUserRejected, "signing request was rejected")
	}

	s.dispatch(ctx, rec.id(), tx.Event{
		Name:          tx.EventError,
		TransactionID: rec.id(),
		At:            time.Now().UTC(),
		Err:           &tx.Error{Kind: tx.ErrUnableToSign, Message: signErr.Error()},
	})

	return rec.snapshot(), nil, tx.NewError(tx.ErrUnableToSign, signErr.Error())
}

// submit broadcasts the signed call and translates chain progress into
// lifecycle events. It runs until a terminal update or the stream ends.
func (s *service) submit(ctx context.Context, id string, api chainconn.ChainApi, signed []byte) {
	if height, err := api.LatestBlockNumber(ctx); err == nil {
		s.withRecord(id, func(rec *record) {
			rec.t.StartBlock = height
		})
	}

	updates, err := api.Submit(ctx, signed)
	if err != nil {
		kind := tx.ErrUnableToSend
		if errors.Is(err, chainconn.ErrChainDisconnected) {
			kind = tx.ErrChainDisconnected
		}
		s.dispatch(ctx, id, tx.Event{
			Name:          tx.EventError,
			TransactionID: id,
			At:            time.Now().UTC(),
			Err:           &tx.Error{Kind: kind, Message: err.Error()},
		})
		return
	}

	sent := false
	for update := range updates {
		if update.Err != nil {
			s.dispatch(ctx, id, tx.Event{
				Name:          tx.EventError,
				TransactionID: id,
				At:            time.Now().UTC(),
				Err:           &tx.Error{Kind: tx.ErrSendTransactionFailed, Message: update.Err.Error()},
			})
			return
		}

		switch update.Stage {
		case chainconn.StageBroadcast:
			if !sent {
				sent = true
				s.dispatch(ctx, id, tx.Event{
					Name:          tx.EventSend,
					TransactionID: id,
					At:            time.Now().UTC(),
				})
			}
			if update.Hash != "" {
				s.dispatch(ctx, id, tx.Event{
					Name:          tx.EventExtrinsicHash,
					TransactionID: id,
					At:            time.Now().UTC(),
					ExtrinsicHash: update.Hash,
				})
			}

		case chainconn.StageInBlock:
			s.dispatch(ctx, id, tx.Event{
				Name:          tx.EventExtrinsicHash,
				TransactionID: id,
				At:            time.Now().UTC(),
				ExtrinsicHash: update.Hash,
				BlockHash:     update.BlockHash,
				BlockNumber:   update.BlockNumber,
			})

		case chainconn.StageFinalized:
			if update.Success {
				s.dispatch(ctx, id, tx.Event{
					Name:          tx.EventSuccess,
					TransactionID: id,
					At:            time.Now().UTC(),
					ExtrinsicHash: update.Hash,
					BlockHash:     update.BlockHash,
					BlockNumber:   update.BlockNumber,
				})
				return
			}
			s.dispatch(ctx, id, tx.Event{
				Name:          tx.EventError,
				TransactionID: id,
				At:            time.Now().UTC(),
				ExtrinsicHash: update.Hash,
				BlockHash:     update.BlockHash,
				BlockNumber:   update.BlockNumber,
				Err:           &tx.Error{Kind: tx.ErrSendTransactionFailed, Message: "transaction failed on chain"},
			})
			return

		case chainconn.StageDropped:
			s.dispatch(ctx, id, tx.Event{
				Name:          tx.EventError,
				TransactionID: id,
				At:            time.Now().UTC(),
				Err:           &tx.Error{Kind: tx.ErrSendTransactionFailed, Message: "transaction dropped from the pool"},
			})
			return
		}
	}
}

// dispatch applies one event through the transition function and executes
// the returned effects. It is the single mutation path of the engine.
func (s *service) dispatch(ctx context.Context, id string, event tx.Event) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	rec.dispatchMu.Lock()
	defer rec.dispatchMu.Unlock()

	rec.mu.Lock()
	tr, err := apply(rec.t.Status, event)
	if err != nil {
		rec.mu.Unlock()
		logger.Debug(ctx, "lifecycle event ignored", "tx.id", id, "event", string(event.Name), "error", err)
		return
	}

	rec.t.Status = tr.next
	rec.t.UpdatedAt = event.At
	if event.ExtrinsicHash != "" {
		rec.t.ExtrinsicHash = event.ExtrinsicHash
	}
	if event.BlockHash != "" {
		rec.t.BlockHash = event.BlockHash
		rec.t.BlockNumber = event.BlockNumber
	}
	if event.Err != nil {
		rec.t.Errors = append(rec.t.Errors, *event.Err)
	}

	snapshot := rec.t.Snapshot()
	subs := append([]chan tx.Event(nil), rec.subs...)
	timer := rec.timer
	rec.mu.Unlock()

	for _, effect := range tr.effects {
		switch effect {
		case EffectNotify:
			s.notify(ctx, snapshot, event, subs)
		case EffectRecordHistory:
			s.recordHistory(ctx, snapshot)
		case EffectCancelTimer:
			if timer != nil {
				timer.Stop()
			}
		case EffectFinalize:
			s.finalize(ctx, rec, snapshot)
		}
	}
}

// notify delivers the event to subscribers and the notifier hook. Slow
// subscribers lose events instead of blocking the lifecycle.
func (s *service) notify(ctx context.Context, snapshot tx.Transaction, event tx.Event, subs []chan tx.Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			logger.Warn(ctx, "subscriber queue full, event dropped", "tx.id", snapshot.ID, "event", string(event.Name))
		}
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, snapshot, event)
	}
}

// recordHistory upserts the transaction's history projection.
func (s *service) recordHistory(ctx context.Context, snapshot tx.Transaction) {
	if s.history == nil {
		return
	}

	isWallet := func(string) bool { return false }
	if s.wallet != nil {
		isWallet = s.wallet.IsWalletAddress
	}

	items := historyItems(snapshot, isWallet)
	if err := s.history.Upsert(ctx, items...); err != nil {
		logger.Error(ctx, "history write failed", "tx.id", snapshot.ID, "error", err)
	}
}

// finalize runs the exactly-once terminal bookkeeping.
func (s *service) finalize(ctx context.Context, rec *record, snapshot tx.Transaction) {
	rec.mu.Lock()
	if rec.done {
		rec.mu.Unlock()
		return
	}
	rec.done = true
	subs := rec.subs
	rec.subs = nil
	rec.mu.Unlock()

	s.mu.Lock()
	key := pendingKey(snapshot.Address, snapshot.Chain)
	if s.pending[key] == snapshot.ID {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(ctx, tx.TopicFinalized, tx.FinalizedEvent{
			TransactionID: snapshot.ID,
			Chain:         snapshot.Chain,
			Address:       snapshot.Address,
			Counterparty:  tx.Destination(snapshot.Payload),
			Status:        snapshot.Status,
		})
	}

	if snapshot.Status == tx.StatusSuccess {
		if hook, ok := s.postProcess[snapshot.Kind]; ok {
			hook(ctx, snapshot)
		}
	}

	for _, ch := range subs {
		close(ch)
	}

	logger.Info(ctx, "transaction finalized",
		"tx.id", snapshot.ID,
		"tx.status", string(snapshot.Status),
		"tx.hash", snapshot.ExtrinsicHash,
	)
}

func (s *service) GetTransaction(id string) (tx.Transaction, error) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return tx.Transaction{}, ErrTransactionNotFound
	}
	return rec.snapshot(), nil
}

func (s *service) Subscribe(id string) (<-chan tx.Event, func(), error) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrTransactionNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.done {
		closed := make(chan tx.Event)
		close(closed)
		return closed, func() {}, nil
	}

	ch := make(chan tx.Event, eventBuffer)
	rec.subs = append(rec.subs, ch)

	cancel := func() {
		rec.dispatchMu.Lock()
		defer rec.dispatchMu.Unlock()
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for i, sub := range rec.subs {
			if sub == ch {
				rec.subs = append(rec.subs[:i], rec.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (s *service) HasPending(address, chain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pending[pendingKey(address, chain)]
	if !ok {
		return false
	}
	rec, ok := s.byID[id]
	return ok && rec.status().IsPending()
}

func (s *service) Close() {
	s.mu.Lock()
	s.closed = true
	records := make([]*record, 0, len(s.byID))
	for _, rec := range s.byID {
		records = append(records, rec)
	}
	s.mu.Unlock()

	for _, rec := range records {
		rec.dispatchMu.Lock()
		rec.mu.Lock()
		if rec.timer != nil {
			rec.timer.Stop()
		}
		if !rec.done {
			rec.done = true
			for _, ch := range rec.subs {
				close(ch)
			}
			rec.subs = nil
		}
		rec.mu.Unlock()
		rec.dispatchMu.Unlock()
	}
}

// remove erases a transaction entirely, used for signer rejections where the
// intent should leave no trace.
func (s *service) remove(rec *record) {
	snapshot := rec.snapshot()

	s.mu.Lock()
	delete(s.byID, snapshot.ID)
	key := pendingKey(snapshot.Address, snapshot.Chain)
	if s.pending[key] == snapshot.ID {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	rec.dispatchMu.Lock()
	rec.mu.Lock()
	for _, ch := range rec.subs {
		close(ch)
	}
	rec.subs = nil
	rec.done = true
	rec.mu.Unlock()
	rec.dispatchMu.Unlock()
}

func (s *service) withRecord(id string, fn func(*record)) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	fn(rec)
	rec.mu.Unlock()
}

func (r *record) snapshot() tx.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.Snapshot()
}

func (r *record) status() tx.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.Status
}

func (r *record) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.ID
}
