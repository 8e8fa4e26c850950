package chainconn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/resilience/retry"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

func init() {
	// keep the global logger quiet but non-nil during tests
	_ = logger.Init("error")
}

type fakeApi struct {
	closed  atomic.Bool
	pingErr atomic.Value // error
}

func (f *fakeApi) setPingErr(err error) { f.pingErr.Store(&err) }

func (f *fakeApi) Submit(ctx context.Context, signed []byte) (<-chan SubmitUpdate, error) {
	ch := make(chan SubmitUpdate)
	close(ch)
	return ch, nil
}

func (f *fakeApi) FreeBalance(ctx context.Context, address string) (types.Amount, error) {
	return types.NewAmount(0), nil
}

func (f *fakeApi) EstimateFee(ctx context.Context, call []byte) (types.Amount, error) {
	return types.NewAmount(0), nil
}

func (f *fakeApi) Lookup(ctx context.Context, hash string) (LookupResult, error) {
	return LookupNotFound, nil
}

func (f *fakeApi) LatestBlockNumber(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeApi) SubscribeHeads(ctx context.Context) (<-chan int64, error) {
	ch := make(chan int64)
	close(ch)
	return ch, nil
}

func (f *fakeApi) Ping(ctx context.Context) error {
	if v := f.pingErr.Load(); v != nil {
		if err := *(v.(*error)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeApi) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeDialer struct {
	mu        sync.Mutex
	dials     []string // endpoints in dial order
	failUntil map[string]int
	apis      []*fakeApi

	// onDial, when set, runs at the start of every dial attempt, outside
	// the dialer's own lock.
	onDial func()
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{failUntil: make(map[string]int)}
}

// failEndpoint makes the next n dials against endpoint fail.
func (d *fakeDialer) failEndpoint(endpoint string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUntil[endpoint] = n
}

func (d *fakeDialer) Dial(ctx context.Context, chain chainregistry.Chain, endpoint string) (ChainApi, error) {
	if d.onDial != nil {
		d.onDial()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, endpoint)
	if d.failUntil[endpoint] > 0 {
		d.failUntil[endpoint]--
		return nil, errors.New("connection refused")
	}

	api := new(fakeApi)
	d.apis = append(d.apis, api)
	return api, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) lastDialed() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dials) == 0 {
		return ""
	}
	return d.dials[len(d.dials)-1]
}

func (d *fakeDialer) lastApi() *fakeApi {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.apis) == 0 {
		return nil
	}
	return d.apis[len(d.apis)-1]
}

func testRegistry(t *testing.T) chainregistry.Service {
	t.Helper()

	registry, err := chainregistry.New([]chainregistry.Chain{
		{
			Slug:          "westend",
			Family:        tx.FamilySubstrate,
			TokenSymbol:   "WND",
			TokenDecimals: 12,
			Endpoints:     []string{"wss://rpc-a.example", "wss://rpc-b.example"},
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

	return registry
}

func fastRetry() retry.Retry {
	return retry.New(retry.WithAttempts(1), retry.WithDelay(time.Millisecond))
}

func TestGetApi(t *testing.T) {
	t.Run("fails for a chain that was never enabled", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		_, err := svc.GetApi("westend")
		assert.ErrorIs(t, err, ErrChainDisconnected)
	})

	t.Run("returns the live handle after enable", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))

		api, err := svc.GetApi("westend")
		require.NoError(t, err)
		assert.NotNil(t, api)
	})
}

func TestEnableChain(t *testing.T) {
	t.Run("connects to the first configured endpoint", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		assert.Equal(t, "wss://rpc-a.example", dialer.lastDialed())

		state, ok := svc.State("westend")
		require.True(t, ok)
		assert.Equal(t, State{Status: StatusConnected, Active: true}, state)
	})

	t.Run("a disable during the dial wins over the enable", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		dialer.onDial = func() {
			require.NoError(t, svc.DisableChain(context.Background(), "westend"))
		}

		err := svc.EnableChain(context.Background(), "westend")
		assert.ErrorIs(t, err, ErrChainDisconnected)

		state, ok := svc.State("westend")
		require.True(t, ok)
		assert.Equal(t, State{Status: StatusDisconnected, Active: false}, state)
		assert.True(t, dialer.lastApi().closed.Load(), "the freshly dialed client must be closed")
	})

	t.Run("is idempotent while already active", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		require.NoError(t, svc.EnableChain(context.Background(), "westend"))

		assert.Equal(t, 1, dialer.dialCount())
	})

	t.Run("rotates to the next endpoint when the first fails", func(t *testing.T) {
		dialer := newFakeDialer()
		dialer.failEndpoint("wss://rpc-a.example", 1)
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		assert.Equal(t, "wss://rpc-b.example", dialer.lastDialed())
	})

	t.Run("fails when every endpoint is down", func(t *testing.T) {
		dialer := newFakeDialer()
		dialer.failEndpoint("wss://rpc-a.example", 10)
		dialer.failEndpoint("wss://rpc-b.example", 10)
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		err := svc.EnableChain(context.Background(), "westend")
		assert.ErrorIs(t, err, ErrChainDisconnected)

		state, ok := svc.State("westend")
		require.True(t, ok)
		assert.False(t, state.Active)
	})

	t.Run("fails for an unknown chain", func(t *testing.T) {
		svc := New(testRegistry(t), map[tx.Family]Dialer{}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		err := svc.EnableChain(context.Background(), "mainnet")
		assert.ErrorIs(t, err, chainregistry.ErrChainNotRegistered)
	})

	t.Run("fails when no dialer covers the chain family", func(t *testing.T) {
		svc := New(testRegistry(t), map[tx.Family]Dialer{}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		err := svc.EnableChain(context.Background(), "sepolia")
		assert.ErrorIs(t, err, ErrFamilyNotSupported)
	})

	t.Run("publishes the state change", func(t *testing.T) {
		var (
			mu     sync.Mutex
			states []StateChange
		)
		bus := eventbus.New()
		bus.On(TopicChainState, func(ctx context.Context, payload any) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, payload.(StateChange))
		})

		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, bus, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, states, 2)
		assert.Equal(t, StatusConnecting, states[0].State.Status)
		assert.Equal(t, StatusConnected, states[1].State.Status)
	})
}

func TestDisableChain(t *testing.T) {
	t.Run("closes the client and deactivates the chain", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		api := dialer.lastApi()
		require.NotNil(t, api)

		require.NoError(t, svc.DisableChain(context.Background(), "westend"))

		assert.True(t, api.closed.Load())
		assert.False(t, svc.IsActive("westend"))

		_, err := svc.GetApi("westend")
		assert.ErrorIs(t, err, ErrChainDisconnected)
	})

	t.Run("is a no-op for a chain that was never enabled", func(t *testing.T) {
		svc := New(testRegistry(t), map[tx.Family]Dialer{}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		assert.NoError(t, svc.DisableChain(context.Background(), "westend"))
	})
}

func TestReconnect(t *testing.T) {
	t.Run("recycles the client and keeps the chain active", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		first := dialer.lastApi()

		require.NoError(t, svc.Reconnect(context.Background(), "westend"))

		assert.True(t, first.closed.Load())
		assert.True(t, svc.IsActive("westend"))

		api, err := svc.GetApi("westend")
		require.NoError(t, err)
		assert.NotSame(t, first, api.(*fakeApi))
	})

	t.Run("keeps the endpoint when it is still reachable", func(t *testing.T) {
		dialer := newFakeDialer()
		dialer.failEndpoint("wss://rpc-a.example", 1)
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		require.Equal(t, "wss://rpc-b.example", dialer.lastDialed())

		require.NoError(t, svc.Reconnect(context.Background(), "westend"))
		assert.Equal(t, "wss://rpc-b.example", dialer.lastDialed())
	})

	t.Run("fails for a chain that was never enabled", func(t *testing.T) {
		svc := New(testRegistry(t), map[tx.Family]Dialer{}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		err := svc.Reconnect(context.Background(), "westend")
		assert.ErrorIs(t, err, ErrChainDisconnected)
	})
}

func TestSleepResume(t *testing.T) {
	t.Run("suspended chains refuse GetApi until resumed", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer, tx.FamilyEVM: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		require.NoError(t, svc.EnableChain(context.Background(), "sepolia"))

		svc.SleepAll(context.Background())

		for _, slug := range []string{"westend", "sepolia"} {
			_, err := svc.GetApi(slug)
			assert.ErrorIs(t, err, ErrChainDisconnected, slug)
			assert.True(t, svc.IsActive(slug), slug)
		}

		svc.ResumeAll(context.Background())

		for _, slug := range []string{"westend", "sepolia"} {
			_, err := svc.GetApi(slug)
			assert.NoError(t, err, slug)
		}
	})

	t.Run("resume skips chains disabled before the suspend", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer, tx.FamilyEVM: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		require.NoError(t, svc.EnableChain(context.Background(), "sepolia"))
		require.NoError(t, svc.DisableChain(context.Background(), "sepolia"))

		svc.SleepAll(context.Background())
		svc.ResumeAll(context.Background())

		_, err := svc.GetApi("westend")
		assert.NoError(t, err)

		_, err = svc.GetApi("sepolia")
		assert.ErrorIs(t, err, ErrChainDisconnected)
	})

	t.Run("is safe against concurrent GetApi callers", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil, WithRetry(fastRetry()))
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))

		done := make(chan struct{})
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					if api, err := svc.GetApi("westend"); err == nil {
						_ = api.Ping(context.Background())
					}
				}
			}()
		}

		for range 5 {
			svc.SleepAll(context.Background())
			svc.ResumeAll(context.Background())
		}

		close(done)
		wg.Wait()

		_, err := svc.GetApi("westend")
		assert.NoError(t, err)
	})
}

func TestHealthLoop(t *testing.T) {
	t.Run("degrades the chain when pings fail and recovers on redial", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil,
			WithRetry(fastRetry()),
			WithHealthInterval(10*time.Millisecond),
		)
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		api := dialer.lastApi()
		require.NotNil(t, api)

		api.setPingErr(errors.New("node gone"))

		assert.Eventually(t, func() bool {
			return dialer.dialCount() > 1
		}, time.Second, 5*time.Millisecond, "health loop never redialed")

		assert.Eventually(t, func() bool {
			state, ok := svc.State("westend")
			return ok && state.Status == StatusConnected && state.Active
		}, time.Second, 5*time.Millisecond, "chain never recovered")

		// the replacement client answers pings again
		replacement := dialer.lastApi()
		assert.NotSame(t, api, replacement)
	})

	t.Run("stops probing once the chain is disabled", func(t *testing.T) {
		dialer := newFakeDialer()
		svc := New(testRegistry(t), map[tx.Family]Dialer{tx.FamilySubstrate: dialer}, nil,
			WithRetry(fastRetry()),
			WithHealthInterval(5*time.Millisecond),
		)
		defer svc.Close()

		require.NoError(t, svc.EnableChain(context.Background(), "westend"))
		require.NoError(t, svc.DisableChain(context.Background(), "westend"))

		before := dialer.dialCount()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, before, dialer.dialCount())
	})
}
