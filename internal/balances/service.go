// Package balances answers free-balance queries with a read-through cache in
// front of the chain clients. Entries expire on a short TTL and are evicted
// early when a transaction touching the address finalizes.
package balances

import (
	"context"
	"time"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

const defaultTTL = 30 * time.Second

// Cache stores balances per (chain, address). Implementations must be safe
// for concurrent use; the redis adapter and the in-memory default both are.
type Cache interface {
	Get(ctx context.Context, chain, address string) (types.Amount, bool, error)
	Set(ctx context.Context, chain, address string, amount types.Amount, ttl time.Duration) error
	Delete(ctx context.Context, chain, address string) error
}

// ApiProvider hands out the live chain handle. The connection manager is the
// only implementation.
type ApiProvider interface {
	GetApi(slug string) (chainconn.ChainApi, error)
}

// Service is the balance read model.
type Service interface {
	// FreeBalance returns the spendable native balance of an address,
	// served from cache within the TTL.
	FreeBalance(ctx context.Context, chain, address string) (types.Amount, error)

	// Invalidate drops the cached balance of an address.
	Invalidate(ctx context.Context, chain, address string)
}

type service struct {
	apis  ApiProvider
	cache Cache
	ttl   time.Duration
}

var _ Service = (*service)(nil)

type config struct {
	cache Cache
	ttl   time.Duration
}

type Option func(*config)

// WithCache swaps the in-memory cache for another implementation.
func WithCache(c Cache) Option {
	return func(cfg *config) {
		cfg.cache = c
	}
}

// WithTTL sets how long a fetched balance stays fresh.
func WithTTL(d time.Duration) Option {
	return func(cfg *config) {
		cfg.ttl = d
	}
}

// New builds the balance service. When bus is non-nil it subscribes to
// finalized-transaction events and evicts both sides of the transfer.
func New(apis ApiProvider, bus *eventbus.Bus, opts ...Option) *service {
	cfg := config{
		cache: newMemoryCache(),
		ttl:   defaultTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &service{
		apis:  apis,
		cache: cfg.cache,
		ttl:   cfg.ttl,
	}

	if bus != nil {
		bus.On(tx.TopicFinalized, s.onFinalized)
	}

	return s
}

func (s *service) FreeBalance(ctx context.Context, chain, address string) (types.Amount, error) {
	cached, ok, err := s.cache.Get(ctx, chain, address)
	if err != nil {
		logger.Warn(ctx, "balance cache read failed", "chain.slug", chain, "error", err)
	} else if ok {
		return cached, nil
	}

	api, err := s.apis.GetApi(chain)
	if err != nil {
		return types.Amount{}, err
	}

	balance, err := api.FreeBalance(ctx, address)
	if err != nil {
		return types.Amount{}, err
	}

	if err := s.cache.Set(ctx, chain, address, balance, s.ttl); err != nil {
		logger.Warn(ctx, "balance cache write failed", "chain.slug", chain, "error", err)
	}

	return balance, nil
}

func (s *service) Invalidate(ctx context.Context, chain, address string) {
	if err := s.cache.Delete(ctx, chain, address); err != nil {
		logger.Warn(ctx, "balance cache eviction failed", "chain.slug", chain, "error", err)
	}
}

// onFinalized evicts the sender and, when present, the receiver of a
// finalized transaction so their next read hits the chain.
func (s *service) onFinalized(ctx context.Context, payload any) {
	event, ok := payload.(tx.FinalizedEvent)
	if !ok {
		return
	}

	s.Invalidate(ctx, event.Chain, event.Address)
	if event.Counterparty != "" {
		s.Invalidate(ctx, event.Chain, event.Counterparty)
	}
}
