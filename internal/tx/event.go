package tx

import (
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
)

// EventName identifies a point in a transaction's lifecycle stream.
type EventName string

const (
	// EventSigned fires once the signer has produced a signature.
	EventSigned EventName = "signed"
	// EventSend fires once the signed call has been handed to the chain client.
	EventSend EventName = "send"
	// EventExtrinsicHash fires when the transaction hash becomes known.
	EventExtrinsicHash EventName = "extrinsicHash"
	// EventSuccess fires on confirmed, finalized success.
	EventSuccess EventName = "success"
	// EventError fires on any failure, including the advisory Timeout.
	EventError EventName = "error"
)

// Event is a single entry of a transaction's lifecycle stream. Within one
// transaction the stream is strictly ordered signed → send → extrinsicHash →
// (success | error); across transactions there is no ordering.
type Event struct {
	Name          EventName
	TransactionID string
	At            time.Time

	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64

	// Err is set only for EventError.
	Err *Error
}

// TopicFinalized is the event bus topic carrying FinalizedEvent payloads.
// The lifecycle engine publishes one event per transaction when it reaches
// a terminal status.
const TopicFinalized eventbus.Topic = "tx.finalized"

// FinalizedEvent announces a transaction reaching Success or Fail. Balance
// caches and other read models key their invalidation off it.
type FinalizedEvent struct {
	TransactionID string
	Chain         string
	Address       string
	Counterparty  string // destination address when the payload has one
	Status        Status
}
