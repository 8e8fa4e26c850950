package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexUnmarshalJSON(t *testing.T) {
	t.Run("accepts lower and uppercase prefixes", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0x1a"`), &h))
		assert.Equal(t, Hex("0x1a"), h)

		require.NoError(t, json.Unmarshal([]byte(`"0X2F"`), &h))
		assert.Equal(t, Hex("0X2F"), h)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		for _, input := range []string{`"1a"`, `"0xZZZ"`, `42`} {
			var h Hex
			assert.Error(t, json.Unmarshal([]byte(input), &h), input)
		}
	})
}

func TestHexInt(t *testing.T) {
	assert.Equal(t, int64(10), Hex("0x0a").Int())
	assert.Equal(t, int64(255), Hex("0xff").Int())
	assert.Equal(t, int64(16), Hex("0X10").Int())
	assert.Equal(t, int64(0), Hex("0xZZZ").Int())
}

func TestHexAdd(t *testing.T) {
	assert.Equal(t, Hex("0x11"), Hex("0x10").Add(1))
	assert.Equal(t, Hex("0x5"), Hex("0xZZZ").Add(5))
}

func TestHexFromString(t *testing.T) {
	h, err := HexFromString("0x2a")
	require.NoError(t, err)
	assert.Equal(t, Hex("0x2a"), h)

	_, err = HexFromString("2a")
	assert.Error(t, err)
}
