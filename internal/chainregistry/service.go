package chainregistry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gabapcia/walletflow/internal/tx"
)

var (
	// ErrChainNotRegistered is returned when looking up an unknown chain slug.
	ErrChainNotRegistered = errors.New("chain not registered")

	// ErrChainInUse is returned when removing a chain that still has an
	// active connection.
	ErrChainInUse = errors.New("chain has an active connection")
)

// ActiveChecker reports whether a chain currently holds a live connection.
// The connection manager provides the implementation at wiring time.
type ActiveChecker func(slug string) bool

// Service exposes lookup and edit operations over the chain catalog.
type Service interface {
	// Get returns the descriptor for the given slug.
	Get(slug string) (Chain, error)

	// List returns every registered descriptor, in unspecified order.
	List() []Chain

	// ListByFamily returns the descriptors of one chain family.
	ListByFamily(family tx.Family) []Chain

	// UpsertChain validates and stores a descriptor, replacing any previous
	// one with the same slug.
	UpsertChain(c Chain) error

	// RemoveChain deletes a descriptor. It fails with ErrChainInUse while
	// the chain holds an active connection.
	RemoveChain(slug string) error

	// SelectEndpoint pins the chain's RPC endpoint to one of its configured
	// endpoints.
	SelectEndpoint(slug, endpoint string) error
}

type service struct {
	mu     sync.RWMutex
	chains map[string]Chain

	isActive ActiveChecker
}

var _ Service = (*service)(nil)

// New builds a registry preloaded with the given descriptors. Invalid
// descriptors are rejected, not skipped.
func New(chains []Chain, isActive ActiveChecker) (*service, error) {
	if isActive == nil {
		isActive = func(string) bool { return false }
	}

	s := &service{
		chains:   make(map[string]Chain, len(chains)),
		isActive: isActive,
	}

	for _, c := range chains {
		if err := s.UpsertChain(c); err != nil {
			return nil, fmt.Errorf("chain %q: %w", c.Slug, err)
		}
	}

	return s, nil
}

func (s *service) Get(slug string) (Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[slug]
	if !ok {
		return Chain{}, ErrChainNotRegistered
	}
	return c, nil
}

func (s *service) List() []Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c)
	}
	return out
}

func (s *service) ListByFamily(family tx.Family) []Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chain
	for _, c := range s.chains {
		if c.Family == family {
			out = append(out, c)
		}
	}
	return out
}

func (s *service) UpsertChain(c Chain) error {
	if err := validateChain(&c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chains[c.Slug] = c
	return nil
}

func (s *service) RemoveChain(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chains[slug]; !ok {
		return ErrChainNotRegistered
	}
	if s.isActive(slug) {
		return ErrChainInUse
	}

	delete(s.chains, slug)
	return nil
}

func (s *service) SelectEndpoint(slug, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chains[slug]
	if !ok {
		return ErrChainNotRegistered
	}

	for _, e := range c.Endpoints {
		if e == endpoint {
			c.CurrentEndpoint = endpoint
			s.chains[slug] = c
			return nil
		}
	}

	return fmt.Errorf("endpoint %q is not configured for chain %q", endpoint, slug)
}
