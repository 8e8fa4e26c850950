// Package chainconn owns one live RPC client per active chain. It performs
// connect, reconnect, health checking, and sleep/resume, and hands out a
// uniform ChainApi capability to every other component. Connection failures
// degrade the affected chain to disconnected; they are never fatal to the
// process.
package chainconn

import (
	"context"
	"errors"

	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/types"
)

// ErrChainDisconnected is returned by GetApi and by ChainApi operations
// attempted against a chain without a live connection.
var ErrChainDisconnected = errors.New("chain disconnected")

// SubmitStage marks the progress of a submitted transaction on chain.
type SubmitStage string

const (
	// StageBroadcast: the raw call was accepted by the node's pool.
	StageBroadcast SubmitStage = "broadcast"
	// StageInBlock: the transaction was included in a block.
	StageInBlock SubmitStage = "inBlock"
	// StageFinalized: the containing block is final; Success tells the outcome.
	StageFinalized SubmitStage = "finalized"
	// StageDropped: the node dropped or invalidated the transaction.
	StageDropped SubmitStage = "dropped"
)

// SubmitUpdate is one progress event of an in-flight submission.
type SubmitUpdate struct {
	Stage       SubmitStage
	Hash        string // transaction/extrinsic hash, set from the first update on
	BlockHash   string // set from StageInBlock on
	BlockNumber int64  // set from StageInBlock on
	Success     bool   // meaningful at StageFinalized
	Err         error  // set when the watch itself failed
}

// LookupResult classifies a by-hash transaction query, used by history
// recovery after restarts.
type LookupResult string

const (
	LookupSuccess  LookupResult = "success"
	LookupFail     LookupResult = "fail"
	LookupPending  LookupResult = "pending"
	LookupNotFound LookupResult = "notFound"
)

// ChainApi is the capability every lifecycle step works against. One
// implementation exists per chain family.
type ChainApi interface {
	// Submit broadcasts a signed call and streams its progress. The channel
	// closes after a terminal update (finalized or dropped) or when ctx ends.
	Submit(ctx context.Context, signed []byte) (<-chan SubmitUpdate, error)

	// FreeBalance returns the spendable native balance of an address.
	FreeBalance(ctx context.Context, address string) (types.Amount, error)

	// EstimateFee estimates the fee of an unsigned call without executing it.
	EstimateFee(ctx context.Context, call []byte) (types.Amount, error)

	// Lookup classifies a previously submitted transaction by hash.
	Lookup(ctx context.Context, hash string) (LookupResult, error)

	// LatestBlockNumber returns the current chain height.
	LatestBlockNumber(ctx context.Context) (int64, error)

	// SubscribeHeads streams new chain heights until ctx ends.
	SubscribeHeads(ctx context.Context) (<-chan int64, error)

	// Ping verifies node liveness.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}

// Dialer opens a ChainApi for one chain family. Implementations live in
// internal/infra/blockchain.
type Dialer interface {
	Dial(ctx context.Context, chain chainregistry.Chain, endpoint string) (ChainApi, error)
}
