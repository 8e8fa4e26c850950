package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hex is a 0x-prefixed hexadecimal number kept in its wire form. JSON-RPC
// chain APIs encode block numbers and quantities this way.
type Hex string

// HexFromString validates s and returns it as a Hex.
func HexFromString(s string) (Hex, error) {
	if err := validateHex(s); err != nil {
		return "", err
	}
	return Hex(s), nil
}

func validateHex(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("hex string must start with 0x")
	}

	if _, err := strconv.ParseUint(s[2:], 16, 64); err != nil {
		return fmt.Errorf("invalid hexadecimal value: %w", err)
	}
	return nil
}

func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(h))
}

// UnmarshalJSON rejects anything that is not a valid 0x-prefixed string.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}

	if err := validateHex(s); err != nil {
		return err
	}

	*h = Hex(s)
	return nil
}

// Add returns the value shifted by n. An invalid receiver counts as zero.
func (h Hex) Add(n int64) Hex {
	return Hex(fmt.Sprintf("0x%x", h.Int()+n))
}

// Int decodes the value, returning zero when the string does not parse.
func (h Hex) Int() int64 {
	v, _ := strconv.ParseInt(string(h)[2:], 16, 64)
	return v
}
