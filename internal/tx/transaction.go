// Package tx defines the transaction aggregate shared by the lifecycle
// engine, validation pipeline, and history recovery: statuses, the typed
// payload variants, the error taxonomy, lifecycle events, and history
// projections.
package tx

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/types"

	"github.com/google/uuid"
)

// Family distinguishes the two supported chain families.
type Family string

const (
	FamilySubstrate Family = "substrate"
	FamilyEVM       Family = "evm"
)

// Status is the lifecycle state of a transaction.
//
// The only legal progression is Queued → Submitting → Processing →
// (Success | Fail). Unknown is entered when the submission timeout fires
// before a terminal state; any later genuine terminal event supersedes it.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusSubmitting Status = "submitting"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFail       Status = "fail"
	StatusUnknown    Status = "unknown"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// IsPending reports whether the status blocks a new transaction for the same
// (address, chain) pair. A timed-out (Unknown) transaction no longer blocks.
func (s Status) IsPending() bool {
	switch s {
	case StatusQueued, StatusSubmitting, StatusProcessing:
		return true
	default:
		return false
	}
}

// Transaction is the central mutable aggregate. It is created and mutated
// exclusively by the lifecycle engine; everyone else reads snapshots.
type Transaction struct {
	ID      string
	Address string
	Chain   string
	Family  Family
	Kind    Kind

	// Payload is the typed intent; Call is the family-specific encoded
	// unsigned call data handed to the signer and the chain client.
	Payload Payload
	Call    []byte

	Status   Status
	Errors   []Error
	Warnings []Warning

	EstimatedFee types.Amount

	CreatedAt time.Time
	UpdatedAt time.Time

	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64

	// StartBlock is the chain height snapshot taken at submission time,
	// kept for post-restart recovery scans.
	StartBlock int64

	Nonce *uint64

	// Internal marks engine-originated transactions (e.g., post-processing
	// follow-ups) as opposed to user intents.
	Internal bool
}

// NewID derives a transaction id from its chain, kind, and origin, with a
// random component to keep ids unique across retries of the same intent.
func NewID(chain string, kind Kind, internal bool) string {
	origin := "external"
	if internal {
		origin = "internal"
	}

	return strings.Join([]string{chain, string(kind), origin, uuid.NewString()}, ".")
}

// Snapshot returns a deep copy safe for readers outside the engine.
func (t *Transaction) Snapshot() Transaction {
	cp := *t

	cp.Errors = append([]Error(nil), t.Errors...)
	cp.Warnings = append([]Warning(nil), t.Warnings...)
	cp.Call = append([]byte(nil), t.Call...)

	if t.Nonce != nil {
		nonce := *t.Nonce
		cp.Nonce = &nonce
	}

	return cp
}

// AppendError records an error finding on the transaction.
func (t *Transaction) AppendError(e Error) {
	t.Errors = append(t.Errors, e)
	t.UpdatedAt = time.Now().UTC()
}

// String identifies the transaction in logs.
func (t *Transaction) String() string {
	return fmt.Sprintf("%s[%s@%s:%s]", t.ID, t.Address, t.Chain, t.Status)
}
