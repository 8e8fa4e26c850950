package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	t.Run("runs the operation once when it succeeds", func(t *testing.T) {
		r := New()
		calls := 0

		err := r.Execute(context.Background(), func() error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until the operation succeeds", func(t *testing.T) {
		r := New(WithAttempts(3), WithDelay(time.Millisecond))
		calls := 0

		err := r.Execute(context.Background(), func() error {
			calls++
			if calls < 2 {
				return errors.New("temporary error")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns the last error once attempts run out", func(t *testing.T) {
		r := New(WithAttempts(3), WithDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
		calls := 0
		persistent := errors.New("persistent error")

		err := r.Execute(context.Background(), func() error {
			calls++
			return persistent
		})

		assert.ErrorIs(t, err, persistent)
		assert.Equal(t, 3, calls)
	})

	t.Run("joins every error when last-error-only is off", func(t *testing.T) {
		r := New(WithAttempts(2), WithDelay(time.Millisecond), WithLastErrorOnly(false))

		first := errors.New("first")
		second := errors.New("second")
		errs := []error{first, second}
		calls := 0

		err := r.Execute(context.Background(), func() error {
			defer func() { calls++ }()
			return errs[calls]
		})

		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
	})

	t.Run("stops retrying when the context is canceled", func(t *testing.T) {
		r := New(WithAttempts(5), WithDelay(100*time.Millisecond))
		calls := 0

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := r.Execute(ctx, func() error {
			calls++
			return errors.New("keeps failing")
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r, ok := New().(*retrier)
		require.True(t, ok)

		assert.Equal(t, uint(3), r.cfg.attempts)
		assert.Equal(t, time.Second, r.cfg.delay)
		assert.Equal(t, 5*time.Second, r.cfg.maxDelay)
		assert.True(t, r.cfg.lastErrOnly)
	})

	t.Run("overrides", func(t *testing.T) {
		r, ok := New(
			WithAttempts(5),
			WithDelay(2*time.Second),
			WithMaxDelay(10*time.Second),
			WithLastErrorOnly(false),
		).(*retrier)
		require.True(t, ok)

		assert.Equal(t, uint(5), r.cfg.attempts)
		assert.Equal(t, 2*time.Second, r.cfg.delay)
		assert.Equal(t, 10*time.Second, r.cfg.maxDelay)
		assert.False(t, r.cfg.lastErrOnly)
	})
}
