package chainconn

import (
	"context"
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/logger"
)

// pingTimeout bounds a single liveness probe.
const pingTimeout = 10 * time.Second

// startHealthLoop launches the liveness watcher for one chain. Each
// connection watches itself; the lifecycle engine is not involved.
func (s *service) startHealthLoop(slug string) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	conn, ok := s.conns[slug]
	if !ok {
		s.mu.Unlock()
		cancel()
		return
	}
	if conn.cancelHealth != nil {
		conn.cancelHealth()
	}
	conn.cancelHealth = cancel
	s.mu.Unlock()

	go s.healthLoop(ctx, slug)
}

// healthLoop pings the chain's node on every tick. A failed probe degrades
// the chain to disconnected and attempts one redial of the same endpoint;
// endpoint rotation is reserved for explicit reconnects.
func (s *service) healthLoop(ctx context.Context, slug string) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		conn, ok := s.conns[slug]
		var api ChainApi
		if ok {
			api = conn.api
		}
		s.mu.RUnlock()

		if !ok || api == nil {
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := api.Ping(pingCtx)
		cancel()

		if err == nil {
			s.markHealthy(ctx, slug)
			continue
		}

		logger.Warn(ctx, "chain health probe failed", "chain.slug", slug, "error", err)
		s.markUnhealthyAndRedial(ctx, slug)
	}
}

// markHealthy flips a previously degraded chain back to connected.
func (s *service) markHealthy(ctx context.Context, slug string) {
	s.mu.Lock()
	conn, ok := s.conns[slug]
	if !ok || conn.state.Status == StatusConnected {
		s.mu.Unlock()
		return
	}
	conn.state = State{Status: StatusConnected, Active: conn.state.Active}
	state := conn.state
	s.mu.Unlock()

	s.emitState(ctx, slug, state)
}

// markUnhealthyAndRedial degrades the chain and tries to re-open the same
// endpoint once. The health loop keeps probing either way.
func (s *service) markUnhealthyAndRedial(ctx context.Context, slug string) {
	s.mu.Lock()
	conn, ok := s.conns[slug]
	if !ok {
		s.mu.Unlock()
		return
	}

	conn.state = State{Status: StatusDisconnected, Active: conn.state.Active}
	state := conn.state
	chain := conn.chain
	endpoint := conn.endpoint
	if conn.api != nil {
		_ = conn.api.Close()
		conn.api = nil
	}
	s.mu.Unlock()

	s.emitState(ctx, slug, state)

	dialer, ok := s.dialers[chain.Family]
	if !ok {
		return
	}

	api, err := dialer.Dial(ctx, chain, endpoint)
	if err != nil {
		logger.Warn(ctx, "chain redial failed", "chain.slug", slug, "error", err)
		return
	}

	s.mu.Lock()
	conn, ok = s.conns[slug]
	if !ok || !conn.state.Active {
		s.mu.Unlock()
		_ = api.Close()
		return
	}
	conn.api = api
	conn.state = State{Status: StatusConnected, Active: conn.state.Active}
	state = conn.state
	s.mu.Unlock()

	s.emitState(ctx, slug, state)
}
