package txengine

import (
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
)

// historyItems builds the history projection of a transaction: always one
// sender-side item, plus a receiver-side item when the counterparty is also
// controlled by this wallet. The switch is exhaustive over the payload
// variants so a new kind fails loudly here instead of writing empty rows.
func historyItems(snapshot tx.Transaction, isWallet func(string) bool) []tx.HistoryItem {
	var (
		amount       types.Amount
		counterparty string
	)

	switch p := snapshot.Payload.(type) {
	case tx.NativeTransfer:
		amount, counterparty = p.Amount, p.To
	case tx.TokenTransfer:
		amount, counterparty = p.Amount, p.To
	case tx.CrossChainTransfer:
		amount, counterparty = p.Amount, p.To
	case tx.NFTSend:
		counterparty = p.To
	case tx.StakingBond:
		amount = p.Amount
	case tx.StakingUnbond:
		amount = p.Amount
	case tx.StakingWithdraw:
		// amount unknown until the chain releases the unbonded funds
	case tx.StakingClaim:
		// reward amount is only known from chain events
	case tx.StakingCompound:
		amount = p.Amount
	case tx.EvmCall:
		amount, counterparty = p.Value, p.To
	case tx.UnknownPayload, nil:
	}

	sender := tx.HistoryItem{
		TransactionID: snapshot.ID,
		Chain:         snapshot.Chain,
		Address:       snapshot.Address,
		Direction:     tx.DirectionSend,
		Counterparty:  counterparty,
		Kind:          snapshot.Kind,
		Amount:        amount,
		Fee:           snapshot.EstimatedFee,
		Status:        snapshot.Status,
		ExtrinsicHash: snapshot.ExtrinsicHash,
		BlockHash:     snapshot.BlockHash,
		BlockNumber:   snapshot.BlockNumber,
		StartBlock:    snapshot.StartBlock,
		Timestamp:     snapshot.UpdatedAt,
	}
	if sender.Timestamp.IsZero() {
		sender.Timestamp = time.Now().UTC()
	}

	items := []tx.HistoryItem{sender}

	if counterparty != "" && counterparty != snapshot.Address && isWallet(counterparty) {
		receiver := sender
		receiver.Address = counterparty
		receiver.Direction = tx.DirectionReceive
		receiver.Counterparty = snapshot.Address
		receiver.Fee = types.Amount{}
		items = append(items, receiver)
	}

	return items
}
