package wsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startRPCServer runs a websocket server whose handler receives each decoded
// request and a send function for pushing frames back to the client.
func startRPCServer(t *testing.T, handle func(req map[string]any, send func(any))) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		send := func(v any) {
			data, err := json.Marshal(v)
			require.NoError(t, err)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req map[string]any
			require.NoError(t, json.Unmarshal(data, &req))
			handle(req, send)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_Call(t *testing.T) {
	t.Run("resolves result by id", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			send(map[string]any{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result":  "0x2a",
			})
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		defer c.Close()

		result, err := c.Call(t.Context(), "chain_getHeader")
		require.NoError(t, err)
		assert.JSONEq(t, `"0x2a"`, string(result))
	})

	t.Run("maps provider errors", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			send(map[string]any{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Call(t.Context(), "no_suchMethod")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderReturnedError)
		assert.Contains(t, err.Error(), "method not found")
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			// never answer
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		defer c.Close()

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		_, err = c.Call(ctx, "chain_getHeader")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("call after close fails fast", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		require.NoError(t, c.Close())

		_, err = c.Call(t.Context(), "chain_getHeader")
		assert.ErrorIs(t, err, ErrClientClosed)
	})
}

func TestClient_Subscribe(t *testing.T) {
	t.Run("streams notifications for the subscription id", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			switch req["method"] {
			case "chain_subscribeNewHeads":
				send(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "sub-1"})
				for _, height := range []string{"0x10", "0x11"} {
					send(map[string]any{
						"jsonrpc": "2.0",
						"method":  "chain_newHead",
						"params": map[string]any{
							"subscription": "sub-1",
							"result":       map[string]any{"number": height},
						},
					})
				}
			case "chain_unsubscribeNewHeads":
				send(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": true})
			}
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		defer c.Close()

		sub, err := c.Subscribe(t.Context(), "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", sub.ID())

		var heights []string
		for i := 0; i < 2; i++ {
			select {
			case raw := <-sub.Events():
				var head struct {
					Number string `json:"number"`
				}
				require.NoError(t, json.Unmarshal(raw, &head))
				heights = append(heights, head.Number)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for notification")
			}
		}
		assert.Equal(t, []string{"0x10", "0x11"}, heights)

		require.NoError(t, sub.Unsubscribe(t.Context()))
	})

	t.Run("numeric subscription ids are normalized", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			if req["method"] == "state_subscribeStorage" {
				send(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": 7})
			}
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)
		defer c.Close()

		sub, err := c.Subscribe(t.Context(), "state_subscribeStorage", "state_unsubscribeStorage")
		require.NoError(t, err)
		assert.Equal(t, "7", sub.ID())
	})

	t.Run("close ends the event stream", func(t *testing.T) {
		endpoint := startRPCServer(t, func(req map[string]any, send func(any)) {
			if req["method"] == "chain_subscribeNewHeads" {
				send(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "sub-9"})
			}
		})

		c, err := Dial(t.Context(), endpoint)
		require.NoError(t, err)

		sub, err := c.Subscribe(t.Context(), "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
		require.NoError(t, err)

		require.NoError(t, c.Close())

		select {
		case _, open := <-sub.Events():
			assert.False(t, open, "event channel should be closed after Close")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestClient_NotificationTeardownRace(t *testing.T) {
	t.Run("delivery racing an unsubscribe never panics the read loop", func(t *testing.T) {
		var f frame
		require.NoError(t, json.Unmarshal([]byte(
			`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":"sub-1","result":{"number":"0x10"}}}`,
		), &f))

		c := &client{
			pending:       make(map[string]chan response),
			subscriptions: make(map[string]*subscription),
		}

		for range 5000 {
			sub := &subscription{id: "sub-1", events: make(chan json.RawMessage, 1)}
			c.mu.Lock()
			c.subscriptions[sub.id] = sub
			c.mu.Unlock()

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				c.dispatchNotification(f)
			}()
			go func() {
				defer wg.Done()
				c.removeSubscription(sub.id)
			}()
			wg.Wait()

			_, open := <-sub.events
			if open {
				// one buffered delivery may have won the race; the channel
				// must still be closed behind it
				_, open = <-sub.events
			}
			assert.False(t, open)
		}
	})
}
