package tx

import (
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/types"
)

// Direction distinguishes the sender-side and receiver-side projections of
// one transaction.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// HistoryItem is the append-only projection of a transaction written to the
// history store. One transaction yields one item for the sender and, when
// the counterparty is also wallet-controlled, a second one for the receiver.
type HistoryItem struct {
	TransactionID string       `json:"transactionId"`
	Chain         string       `json:"chain"`
	Address       string       `json:"address"`
	Direction     Direction    `json:"direction"`
	Counterparty  string       `json:"counterparty,omitempty"`
	Kind          Kind         `json:"kind"`
	Amount        types.Amount `json:"amount"`
	Fee           types.Amount `json:"fee"`
	Status        Status       `json:"status"`
	ExtrinsicHash string       `json:"extrinsicHash,omitempty"`
	BlockHash     string       `json:"blockHash,omitempty"`
	BlockNumber   int64        `json:"blockNumber,omitempty"`
	StartBlock    int64        `json:"startBlock,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// HistoryPatch is a partial update applied to history items by extrinsic
// hash, used when finality information arrives.
type HistoryPatch struct {
	Status      *Status `json:"status,omitempty"`
	BlockHash   *string `json:"blockHash,omitempty"`
	BlockNumber *int64  `json:"blockNumber,omitempty"`
}
