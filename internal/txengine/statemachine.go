package txengine

import (
	"errors"
	"fmt"

	"github.com/gabapcia/walletflow/internal/tx"
)

// Effect is a side effect the driver must execute after a transition. The
// transition function only decides; it never touches storage, timers, or
// subscribers itself.
type Effect string

const (
	// EffectNotify fans the event out to the transaction's subscribers and
	// the notifier hook.
	EffectNotify Effect = "notify"
	// EffectRecordHistory persists the transaction's current projection.
	EffectRecordHistory Effect = "recordHistory"
	// EffectCancelTimer stops the submission timeout timer.
	EffectCancelTimer Effect = "cancelTimer"
	// EffectFinalize runs the terminal bookkeeping: finalized-event
	// publication, post-processing, and pending-slot release. It appears in
	// at most one transition per transaction.
	EffectFinalize Effect = "finalize"
)

// errInvalidTransition marks an event that is not legal in the current
// status. Late events after a terminal status land here, which is what
// makes terminal side effects exactly-once.
var errInvalidTransition = errors.New("invalid lifecycle transition")

// transition is the outcome of applying one event.
type transition struct {
	next    tx.Status
	effects []Effect
}

// apply is the pure lifecycle transition function. Given the current status
// and an incoming event it returns the next status and the effects the
// driver must run. It has no side effects and no dependencies, so every
// lifecycle rule is testable in isolation.
//
// Legal progression: Queued → Submitting → Processing → (Success | Fail).
// A submission timeout moves the transaction to Unknown instead of a
// terminal status; a later genuine Success or Fail supersedes it.
func apply(current tx.Status, event tx.Event) (transition, error) {
	if current.IsTerminal() {
		return transition{}, fmt.Errorf("%w: %s after terminal %s", errInvalidTransition, event.Name, current)
	}

	switch event.Name {
	case tx.EventSigned:
		if current != tx.StatusQueued {
			return transition{}, invalid(current, event)
		}
		return transition{
			next:    tx.StatusSubmitting,
			effects: []Effect{EffectNotify, EffectRecordHistory},
		}, nil

	case tx.EventSend:
		if current != tx.StatusSubmitting {
			return transition{}, invalid(current, event)
		}
		return transition{
			next:    tx.StatusProcessing,
			effects: []Effect{EffectNotify, EffectRecordHistory},
		}, nil

	case tx.EventExtrinsicHash:
		switch current {
		case tx.StatusSubmitting, tx.StatusProcessing, tx.StatusUnknown:
			return transition{
				next:    current,
				effects: []Effect{EffectNotify, EffectRecordHistory},
			}, nil
		default:
			return transition{}, invalid(current, event)
		}

	case tx.EventSuccess:
		switch current {
		case tx.StatusSubmitting, tx.StatusProcessing, tx.StatusUnknown:
			return transition{
				next:    tx.StatusSuccess,
				effects: []Effect{EffectNotify, EffectRecordHistory, EffectCancelTimer, EffectFinalize},
			}, nil
		default:
			return transition{}, invalid(current, event)
		}

	case tx.EventError:
		if event.Err != nil && event.Err.Kind == tx.ErrTimeout {
			// Advisory: the submission timed out but the network may still
			// confirm it. Not terminal, so no finalize and the pending slot
			// is released by status alone.
			switch current {
			case tx.StatusSubmitting, tx.StatusProcessing:
				return transition{
					next:    tx.StatusUnknown,
					effects: []Effect{EffectNotify, EffectRecordHistory},
				}, nil
			default:
				return transition{}, invalid(current, event)
			}
		}
		return transition{
			next:    tx.StatusFail,
			effects: []Effect{EffectNotify, EffectRecordHistory, EffectCancelTimer, EffectFinalize},
		}, nil

	default:
		return transition{}, fmt.Errorf("%w: unknown event %q", errInvalidTransition, event.Name)
	}
}

func invalid(current tx.Status, event tx.Event) error {
	return fmt.Errorf("%w: %s while %s", errInvalidTransition, event.Name, current)
}
