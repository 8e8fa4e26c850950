// Package txrecovery reconciles history items that were left in Submitting or
// Processing by a crash or shutdown. It re-queries each item's fate on chain
// and patches the stored status, sweeping periodically until nothing stuck
// remains.
package txrecovery

import (
	"context"
	"sync"
	"time"

	"github.com/gabapcia/walletflow/internal/balances"
	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/resilience/retry"
	"github.com/gabapcia/walletflow/internal/tx"
)

const (
	defaultInterval = time.Minute

	// maxConcurrent bounds parallel chain re-queries per sweep.
	maxConcurrent = 10

	// staleAfterBlocks is how far past its start block a missing
	// transaction may be before it is declared failed. Within the window it
	// may still be sitting in a pool somewhere.
	staleAfterBlocks = 64
)

// HistoryStore is the slice of the history storage the sweep needs.
type HistoryStore interface {
	ListByStatus(ctx context.Context, statuses ...tx.Status) ([]tx.HistoryItem, error)
	Upsert(ctx context.Context, items ...tx.HistoryItem) error
	UpdateByHash(ctx context.Context, chain, hash string, patch tx.HistoryPatch) error
}

// Service runs the recovery sweep.
type Service interface {
	// Run sweeps immediately and then on every interval until ctx ends or
	// no stuck item remains.
	Run(ctx context.Context) error

	// SweepOnce processes every currently stuck item and returns how many
	// are still unresolved.
	SweepOnce(ctx context.Context) (int, error)
}

type service struct {
	history  HistoryStore
	apis     balances.ApiProvider
	retry    retry.Retry
	interval time.Duration
}

var _ Service = (*service)(nil)

type config struct {
	retry    retry.Retry
	interval time.Duration
}

type Option func(*config)

// WithRetry sets the retry policy for per-item chain queries.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithInterval sets the pause between sweeps.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
	}
}

// New builds the recovery sweep over the given history store and connection
// manager.
func New(history HistoryStore, apis balances.ApiProvider, opts ...Option) *service {
	cfg := config{
		retry:    retry.New(),
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		history:  history,
		apis:     apis,
		retry:    cfg.retry,
		interval: cfg.interval,
	}
}

func (s *service) Run(ctx context.Context) error {
	for {
		remaining, err := s.SweepOnce(ctx)
		if err != nil {
			return err
		}
		if remaining == 0 {
			logger.Info(ctx, "history recovery finished, nothing left to reconcile")
			return nil
		}

		logger.Info(ctx, "history recovery pass done", "recovery.remaining", remaining)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

func (s *service) SweepOnce(ctx context.Context) (int, error) {
	stuck, err := s.history.ListByStatus(ctx, tx.StatusSubmitting, tx.StatusProcessing)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	var (
		wg        sync.WaitGroup
		sem       = make(chan struct{}, maxConcurrent)
		mu        sync.Mutex
		remaining int
	)

	for _, item := range stuck {
		select {
		case <-ctx.Done():
			// drain the in-flight reconciles before reading remaining
			wg.Wait()
			return remaining, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item tx.HistoryItem) {
			defer wg.Done()
			defer func() { <-sem }()

			if !s.reconcile(ctx, item) {
				mu.Lock()
				remaining++
				mu.Unlock()
			}
		}(item)
	}

	wg.Wait()
	return remaining, nil
}

// reconcile settles one stuck item. It reports true when the item reached a
// terminal status and false when it must wait for the next sweep.
func (s *service) reconcile(ctx context.Context, item tx.HistoryItem) bool {
	api, err := s.apis.GetApi(item.Chain)
	if err != nil {
		// Disconnected chains are left alone; the next sweep retries.
		return false
	}

	if item.ExtrinsicHash == "" {
		// Never reached the pool with a recorded hash; nothing on chain can
		// confirm it.
		return s.settle(ctx, item, tx.StatusFail)
	}

	var result chainconn.LookupResult
	err = s.retry.Execute(ctx, func() error {
		var lookupErr error
		result, lookupErr = api.Lookup(ctx, item.ExtrinsicHash)
		return lookupErr
	})
	if err != nil {
		logger.Warn(ctx, "recovery lookup failed",
			"tx.id", item.TransactionID, "tx.hash", item.ExtrinsicHash, "error", err)
		return false
	}

	switch result {
	case chainconn.LookupSuccess:
		return s.settle(ctx, item, tx.StatusSuccess)
	case chainconn.LookupFail:
		return s.settle(ctx, item, tx.StatusFail)
	case chainconn.LookupPending:
		return false
	case chainconn.LookupNotFound:
		if s.pastMortality(ctx, api, item) {
			return s.settle(ctx, item, tx.StatusFail)
		}
		return false
	default:
		return false
	}
}

// pastMortality reports whether the chain has advanced far enough past the
// item's start block that a missing transaction can no longer land.
func (s *service) pastMortality(ctx context.Context, api chainconn.ChainApi, item tx.HistoryItem) bool {
	if item.StartBlock == 0 {
		return true
	}

	height, err := api.LatestBlockNumber(ctx)
	if err != nil {
		return false
	}
	return height-item.StartBlock > staleAfterBlocks
}

func (s *service) settle(ctx context.Context, item tx.HistoryItem, status tx.Status) bool {
	item.Status = status
	item.Timestamp = time.Now().UTC()

	// Patching by hash settles the receiver projection of the same
	// transaction in the same write. Items that never got a hash fall back
	// to a direct upsert.
	var err error
	if item.ExtrinsicHash != "" {
		err = s.history.UpdateByHash(ctx, item.Chain, item.ExtrinsicHash, tx.HistoryPatch{Status: &status})
	} else {
		err = s.history.Upsert(ctx, item)
	}
	if err != nil {
		logger.Error(ctx, "recovery status write failed", "tx.id", item.TransactionID, "error", err)
		return false
	}

	logger.Info(ctx, "stuck transaction reconciled",
		"tx.id", item.TransactionID, "tx.status", string(status))
	return true
}
