package txengine

import (
	"context"
	"errors"

	"github.com/gabapcia/walletflow/internal/tx"
)

// ErrSigningRejected is returned by Signer implementations when the user
// declines the signing request. The engine removes the transaction as if it
// was never created.
var ErrSigningRejected = errors.New("signing request rejected")

// Signer produces signatures for wallet-controlled addresses. The concrete
// implementation talks to the keyring; the engine never sees key material.
type Signer interface {
	// Sign returns the signed, broadcast-ready call bytes for the
	// transaction. Implementations return ErrSigningRejected when the user
	// declines.
	Sign(ctx context.Context, snapshot tx.Transaction) ([]byte, error)

	// CanSign reports whether the wallet holds keys for the address.
	CanSign(address string) bool
}
