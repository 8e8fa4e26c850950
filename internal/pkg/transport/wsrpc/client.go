// Package wsrpc provides a JSON-RPC 2.0 client over a websocket connection.
// On top of plain id-matched calls it supports server-push subscriptions in
// the style exposed by Substrate nodes (subscribe method returns an id,
// notifications carry that id, an unsubscribe method tears it down).
package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrProviderReturnedError indicates that the remote JSON-RPC server returned an error response.
	ErrProviderReturnedError = errors.New("provider error")

	// ErrClientClosed is returned for calls made against a closed client, and
	// delivered to callers whose in-flight calls were interrupted by Close.
	ErrClientClosed = errors.New("wsrpc client closed")
)

// subscriptionChannelBufferSize bounds how many undelivered notifications a
// subscription may hold before the read loop drops new ones.
const subscriptionChannelBufferSize = 16

// rpcError is the error object of a JSON-RPC 2.0 response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// frame is the superset of every message the server may push: call responses
// (ID set) and subscription notifications (Method + Params set).
type frame struct {
	JsonRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  *struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// response is the resolution of a single pending call.
type response struct {
	result json.RawMessage
	err    error
}

// Client defines the interface for a websocket JSON-RPC client.
type Client interface {
	// Call sends a JSON-RPC request and waits for the matching response.
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// Subscribe issues subscribeMethod, registers the returned subscription id,
	// and streams its notifications. unsubscribeMethod is invoked on
	// Subscription.Unsubscribe.
	Subscribe(ctx context.Context, subscribeMethod, unsubscribeMethod string, params ...any) (Subscription, error)

	// Close tears down the connection. In-flight calls resolve with
	// ErrClientClosed and all subscription channels are closed.
	Close() error
}

// Subscription is a live server-push subscription.
type Subscription interface {
	// ID returns the server-assigned subscription id.
	ID() string

	// Events returns the notification stream. The channel is closed when
	// the subscription is unsubscribed or the client is closed.
	Events() <-chan json.RawMessage

	// Unsubscribe tells the server to stop the subscription and closes the
	// event channel. It is safe to call more than once.
	Unsubscribe(ctx context.Context) error
}

type subscription struct {
	id     string
	events chan json.RawMessage

	unsubscribeMethod string
	client            *client

	closeOnce sync.Once
}

var _ Subscription = (*subscription)(nil)

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Events() <-chan json.RawMessage {
	return s.events
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.client.removeSubscription(s.id)
		_, err = s.client.Call(ctx, s.unsubscribeMethod, s.id)
	})
	return err
}

// client is the default implementation of the Client interface.
type client struct {
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes to the websocket

	mu            sync.Mutex
	closed        bool
	pending       map[string]chan response
	subscriptions map[string]*subscription
}

// Compile-time assertion that client implements the Client interface.
var _ Client = (*client)(nil)

// Dial connects to the given websocket endpoint and starts the read loop.
func Dial(ctx context.Context, endpoint string) (*client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	c := &client{
		conn:          conn,
		pending:       make(map[string]chan response),
		subscriptions: make(map[string]*subscription),
	}

	go c.readLoop()
	return c, nil
}

// Call sends a JSON-RPC request with a UUID id and waits for its response.
func (c *client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := uuid.NewString()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	resCh := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = resCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, body)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		return res.result, res.err
	}
}

// Subscribe issues the subscription call and registers its notification stream.
func (c *client) Subscribe(ctx context.Context, subscribeMethod, unsubscribeMethod string, params ...any) (Subscription, error) {
	result, err := c.Call(ctx, subscribeMethod, params...)
	if err != nil {
		return nil, err
	}

	id, err := decodeSubscriptionID(result)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:                id,
		events:            make(chan json.RawMessage, subscriptionChannelBufferSize),
		unsubscribeMethod: unsubscribeMethod,
		client:            c,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.subscriptions[id] = sub
	c.mu.Unlock()

	return sub, nil
}

// Close shuts the connection down, failing pending calls and closing every
// subscription channel.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for id, ch := range c.pending {
		ch <- response{err: ErrClientClosed}
		delete(c.pending, id)
	}
	for id, sub := range c.subscriptions {
		close(sub.events)
		delete(c.subscriptions, id)
	}
	c.mu.Unlock()

	return c.conn.Close()
}

// removeSubscription detaches a subscription and closes its channel.
func (c *client) removeSubscription(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subscriptions[id]; ok {
		close(sub.events)
		delete(c.subscriptions, id)
	}
}

// readLoop decodes incoming frames and routes them to pending calls or
// subscription channels until the connection dies or Close is called.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			_ = c.Close()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue // not a frame we understand; skip
		}

		switch {
		case f.ID != "":
			c.resolvePending(f)
		case f.Params != nil:
			c.dispatchNotification(f)
		}
	}
}

// resolvePending completes the call waiting on the frame's id, if any.
func (c *client) resolvePending(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	res := response{result: f.Result}
	if f.Error != nil {
		res.err = fmt.Errorf("%w: [%d] - %s", ErrProviderReturnedError, f.Error.Code, f.Error.Message)
	}
	ch <- res
}

// dispatchNotification forwards a subscription notification to its stream.
// Notifications for unknown ids, and notifications that would block on a full
// channel, are dropped.
func (c *client) dispatchNotification(f frame) {
	id, err := decodeSubscriptionID(f.Params.Subscription)
	if err != nil {
		return
	}

	// The lock is held through the send so Unsubscribe and Close cannot
	// close the channel mid-send. The send never blocks, so the critical
	// section stays short.
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[id]
	if !ok {
		return
	}

	select {
	case sub.events <- f.Params.Result:
	default:
	}
}

// decodeSubscriptionID normalizes a subscription id, which servers encode as
// either a JSON string or a number.
func decodeSubscriptionID(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return strconv.FormatInt(asNumber, 10), nil
	}

	return "", fmt.Errorf("unrecognized subscription id: %s", string(raw))
}
