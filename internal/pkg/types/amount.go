package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Amount represents a non-negative token amount in the smallest on-chain unit
// (planck, wei). The zero value is usable and equals zero.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount holding the given int64 value.
func NewAmount(n int64) Amount {
	return Amount{v: big.NewInt(n)}
}

// AmountFromBig returns an Amount holding a copy of the given big.Int.
// A nil input yields the zero Amount.
func AmountFromBig(n *big.Int) Amount {
	if n == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(n)}
}

// AmountFromString parses a base-10 amount string.
func AmountFromString(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount: %q", s)
	}
	return Amount{v: v}, nil
}

// AmountFromHexString parses a 0x-prefixed hexadecimal amount string, as
// returned by EVM JSON-RPC balance and gas queries.
func AmountFromHexString(s string) (Amount, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Amount{}, fmt.Errorf("hex amount must start with 0x: %q", s)
	}

	v, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return Amount{}, fmt.Errorf("invalid hex amount: %q", s)
	}
	return Amount{v: v}, nil
}

// big returns the underlying value, treating nil as zero.
func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the underlying big.Int value.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.big())
}

// Add returns a new Amount equal to a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a new Amount equal to a-b. The result may be negative;
// callers that care should check Sign.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.big(), b.big())}
}

// Mul returns a new Amount equal to a*b.
func (a Amount) Mul(b Amount) Amount {
	return Amount{v: new(big.Int).Mul(a.big(), b.big())}
}

// Cmp compares a and b, returning -1, 0, or +1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Sign returns -1, 0, or +1 depending on the sign of the amount.
func (a Amount) Sign() int {
	return a.big().Sign()
}

// IsZero reports whether the amount equals zero.
func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

// String returns the base-10 representation of the amount.
func (a Amount) String() string {
	return a.big().String()
}

// MarshalJSON encodes the amount as a base-10 JSON string, preserving
// precision beyond float64 limits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an amount from a JSON string or number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)

	parsed, err := AmountFromString(s)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}
