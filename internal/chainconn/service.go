package chainconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/resilience/retry"
	"github.com/gabapcia/walletflow/internal/tx"
)

// ErrFamilyNotSupported is returned when no dialer is registered for a
// chain's family.
var ErrFamilyNotSupported = errors.New("chain family not supported")

// TopicChainState is the event bus topic carrying StateChange payloads.
const TopicChainState eventbus.Topic = "chain.state.changed"

const defaultHealthInterval = 30 * time.Second

// Status is the connection status of one chain.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// State is the externally visible connection state of a chain. It is owned
// exclusively by this package; transitions are the only mutation path.
type State struct {
	Status Status
	Active bool
}

// StateChange is the payload emitted on TopicChainState.
type StateChange struct {
	Chain string
	State State
}

// Service manages the set of live chain connections.
type Service interface {
	// GetApi returns the live handle for an active, connected chain. It
	// never blocks waiting for a connection.
	GetApi(slug string) (ChainApi, error)

	// EnableChain opens a connection for the chain. Idempotent when already
	// active.
	EnableChain(ctx context.Context, slug string) error

	// DisableChain tears the connection down. In-flight submissions on the
	// chain surface connection errors on their next RPC call.
	DisableChain(ctx context.Context, slug string) error

	// Reconnect force-recycles the underlying client without changing the
	// chain's active flag. The endpoint is kept; rotation happens only when
	// the current endpoint fails.
	Reconnect(ctx context.Context, slug string) error

	// State returns the connection state of a chain, if it was ever enabled.
	State(slug string) (State, bool)

	// IsActive reports whether the chain holds an active connection.
	IsActive(slug string) bool

	// SleepAll suspends every active connection; GetApi callers see
	// ErrChainDisconnected until ResumeAll.
	SleepAll(ctx context.Context)

	// ResumeAll re-opens every connection suspended by SleepAll.
	ResumeAll(ctx context.Context)

	// Close disconnects everything and stops all health loops.
	Close()
}

// connection is the per-chain record. All fields are guarded by service.mu.
type connection struct {
	chain        chainregistry.Chain
	api          ChainApi
	state        State
	endpoint     string
	cancelHealth context.CancelFunc
}

type service struct {
	mu    sync.RWMutex
	conns map[string]*connection

	registry chainregistry.Service
	dialers  map[tx.Family]Dialer

	bus            *eventbus.Bus
	retry          retry.Retry
	healthInterval time.Duration
}

var _ Service = (*service)(nil)

type config struct {
	retry          retry.Retry
	healthInterval time.Duration
}

type Option func(*config)

// WithRetry sets the retry policy used when dialing endpoints.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithHealthInterval sets how often each connection pings its node.
func WithHealthInterval(d time.Duration) Option {
	return func(c *config) {
		c.healthInterval = d
	}
}

// New builds a connection manager over the given registry and per-family
// dialers. Events are published on bus under TopicChainState.
func New(registry chainregistry.Service, dialers map[tx.Family]Dialer, bus *eventbus.Bus, opts ...Option) *service {
	cfg := config{
		retry:          retry.New(),
		healthInterval: defaultHealthInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		conns:          make(map[string]*connection),
		registry:       registry,
		dialers:        dialers,
		bus:            bus,
		retry:          cfg.retry,
		healthInterval: cfg.healthInterval,
	}
}

func (s *service) GetApi(slug string) (ChainApi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[slug]
	if !ok || !conn.state.Active || conn.state.Status != StatusConnected || conn.api == nil {
		return nil, fmt.Errorf("%w: %s", ErrChainDisconnected, slug)
	}

	return conn.api, nil
}

func (s *service) EnableChain(ctx context.Context, slug string) error {
	chain, err := s.registry.Get(slug)
	if err != nil {
		return err
	}

	dialer, ok := s.dialers[chain.Family]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFamilyNotSupported, chain.Family)
	}

	s.mu.Lock()
	if conn, exists := s.conns[slug]; exists && conn.state.Active {
		s.mu.Unlock()
		return nil // already enabled
	}
	conn := &connection{
		chain:    chain,
		state:    State{Status: StatusConnecting, Active: true},
		endpoint: chain.CurrentEndpoint,
	}
	s.conns[slug] = conn
	s.mu.Unlock()

	s.emitState(ctx, slug, conn.state)

	api, endpoint, err := s.dial(ctx, dialer, chain, conn.endpoint)
	if err != nil {
		s.transition(ctx, slug, State{Status: StatusDisconnected, Active: false})
		return err
	}

	s.mu.Lock()
	if !conn.state.Active {
		// DisableChain won the race during the dial; honor it
		s.mu.Unlock()
		_ = api.Close()
		return fmt.Errorf("%w: %s: disabled while connecting", ErrChainDisconnected, slug)
	}
	conn.api = api
	conn.endpoint = endpoint
	conn.state = State{Status: StatusConnected, Active: true}
	s.mu.Unlock()

	s.emitState(ctx, slug, conn.state)
	s.startHealthLoop(slug)

	logger.Info(ctx, "chain enabled", "chain.slug", slug, "chain.endpoint", endpoint)
	return nil
}

func (s *service) DisableChain(ctx context.Context, slug string) error {
	s.mu.Lock()
	conn, ok := s.conns[slug]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	s.stopConnectionLocked(conn)
	conn.state = State{Status: StatusDisconnected, Active: false}
	s.mu.Unlock()

	s.emitState(ctx, slug, State{Status: StatusDisconnected, Active: false})
	logger.Info(ctx, "chain disabled", "chain.slug", slug)
	return nil
}

func (s *service) Reconnect(ctx context.Context, slug string) error {
	s.mu.Lock()
	conn, ok := s.conns[slug]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChainDisconnected, slug)
	}

	active := conn.state.Active
	chain := conn.chain
	endpoint := conn.endpoint
	s.stopConnectionLocked(conn)
	conn.state = State{Status: StatusConnecting, Active: active}
	s.mu.Unlock()

	s.emitState(ctx, slug, State{Status: StatusConnecting, Active: active})

	dialer := s.dialers[chain.Family]
	api, endpoint, err := s.dial(ctx, dialer, chain, endpoint)
	if err != nil {
		s.transition(ctx, slug, State{Status: StatusDisconnected, Active: active})
		return err
	}

	s.mu.Lock()
	conn.api = api
	conn.endpoint = endpoint
	conn.state = State{Status: StatusConnected, Active: active}
	s.mu.Unlock()

	s.emitState(ctx, slug, State{Status: StatusConnected, Active: active})
	s.startHealthLoop(slug)
	return nil
}

func (s *service) State(slug string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[slug]
	if !ok {
		return State{}, false
	}
	return conn.state, true
}

func (s *service) IsActive(slug string) bool {
	state, ok := s.State(slug)
	return ok && state.Active
}

func (s *service) SleepAll(ctx context.Context) {
	s.mu.Lock()
	var suspended []string
	for slug, conn := range s.conns {
		if !conn.state.Active || conn.state.Status != StatusConnected {
			continue
		}
		s.stopConnectionLocked(conn)
		conn.state = State{Status: StatusDisconnected, Active: true}
		suspended = append(suspended, slug)
	}
	s.mu.Unlock()

	for _, slug := range suspended {
		s.emitState(ctx, slug, State{Status: StatusDisconnected, Active: true})
	}
	logger.Info(ctx, "connections suspended", "chain.count", len(suspended))
}

func (s *service) ResumeAll(ctx context.Context) {
	s.mu.RLock()
	var toResume []string
	for slug, conn := range s.conns {
		if conn.state.Active && conn.api == nil {
			toResume = append(toResume, slug)
		}
	}
	s.mu.RUnlock()

	for _, slug := range toResume {
		if err := s.Reconnect(ctx, slug); err != nil {
			logger.Error(ctx, "failed to resume chain", "chain.slug", slug, "error", err)
		}
	}
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		s.stopConnectionLocked(conn)
		conn.state = State{Status: StatusDisconnected, Active: false}
	}
}

// dial attempts the given endpoint first and rotates through the chain's
// other endpoints only after it fails.
func (s *service) dial(ctx context.Context, dialer Dialer, chain chainregistry.Chain, endpoint string) (ChainApi, string, error) {
	candidates := []string{endpoint}
	for _, e := range chain.Endpoints {
		if e != endpoint {
			candidates = append(candidates, e)
		}
	}

	var (
		api     ChainApi
		current string
	)
	for _, candidate := range candidates {
		err := s.retry.Execute(ctx, func() error {
			opened, err := dialer.Dial(ctx, chain, candidate)
			if err != nil {
				return err
			}
			api, current = opened, candidate
			return nil
		})
		if err == nil {
			return api, current, nil
		}

		logger.Warn(ctx, "endpoint failed, rotating",
			"chain.slug", chain.Slug,
			"chain.endpoint", candidate,
		)
	}

	return nil, "", fmt.Errorf("%w: %s: all endpoints failed", ErrChainDisconnected, chain.Slug)
}

// stopConnectionLocked cancels the health loop and closes the client.
// Callers must hold s.mu.
func (s *service) stopConnectionLocked(conn *connection) {
	if conn.cancelHealth != nil {
		conn.cancelHealth()
		conn.cancelHealth = nil
	}
	if conn.api != nil {
		_ = conn.api.Close()
		conn.api = nil
	}
}

// transition records a new state and emits the change.
func (s *service) transition(ctx context.Context, slug string, state State) {
	s.mu.Lock()
	if conn, ok := s.conns[slug]; ok {
		conn.state = state
	}
	s.mu.Unlock()

	s.emitState(ctx, slug, state)
}

func (s *service) emitState(ctx context.Context, slug string, state State) {
	if s.bus != nil {
		s.bus.Emit(ctx, TopicChainState, StateChange{Chain: slug, State: state})
	}
}
