// Package local implements an in-process signer for development and tests.
// It appends a deterministic blake2b tag to the encoded call instead of a
// real chain signature; production deployments plug an external signer
// gateway into the same interface.
package local

import (
	"context"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txengine"
)

// Signer signs for a fixed set of addresses loaded at startup.
type Signer struct {
	addresses map[string]struct{}
}

var _ txengine.Signer = (*Signer)(nil)

// New builds a signer for the given addresses. Addresses outside the set are
// treated as watch-only.
func New(addresses ...string) *Signer {
	set := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		set[addr] = struct{}{}
	}
	return &Signer{addresses: set}
}

func (s *Signer) CanSign(address string) bool {
	_, ok := s.addresses[address]
	return ok
}

// Sign tags the call with a blake2b digest bound to the signing address.
func (s *Signer) Sign(ctx context.Context, snapshot tx.Transaction) ([]byte, error) {
	if !s.CanSign(snapshot.Address) {
		return nil, fmt.Errorf("%w: no key for %s", txengine.ErrSigningRejected, snapshot.Address)
	}

	tag := blake2b.Sum256(append([]byte(snapshot.Address), snapshot.Call...))

	signed := make([]byte, 0, len(snapshot.Call)+len(tag))
	signed = append(signed, snapshot.Call...)
	signed = append(signed, tag[:]...)
	return signed, nil
}

// IsWalletAddress reports whether the address is one of the signer's own
// accounts; the engine uses it to decide receiver-side history projections.
func (s *Signer) IsWalletAddress(address string) bool {
	return s.CanSign(address)
}
