package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	t.Run("returns the raw result of a successful call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "2.0", req["jsonrpc"])
			assert.Equal(t, "chain_getHeader", req["method"])
			assert.NotEmpty(t, req["id"])

			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result":  map[string]any{"hello": "world"},
			})
		}))
		defer server.Close()

		result, err := NewClient(server.Client(), server.URL).Fetch(context.Background(), "chain_getHeader")
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(result, &decoded))
		assert.Equal(t, map[string]any{"hello": "world"}, decoded)
	})

	t.Run("surfaces json-rpc error objects", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      "1",
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
		}))
		defer server.Close()

		_, err := NewClient(server.Client(), server.URL).Fetch(context.Background(), "no_such_method")
		assert.ErrorIs(t, err, ErrProviderReturnedError)
		assert.Contains(t, err.Error(), "method not found")
	})

	t.Run("fails on malformed response bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("this is not json"))
		}))
		defer server.Close()

		_, err := NewClient(server.Client(), server.URL).Fetch(context.Background(), "anything")
		assert.Error(t, err)
	})

	t.Run("fails when the server is unreachable", func(t *testing.T) {
		server := httptest.NewServer(nil)
		server.Close()

		_, err := NewClient(http.DefaultClient, server.URL).Fetch(context.Background(), "anything")
		assert.Error(t, err)
	})
}
