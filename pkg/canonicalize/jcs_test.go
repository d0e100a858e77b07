package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	b, err := JCS(map[string]any{"c": 3, "a": 1, "b": map[string]any{"y": "foo", "x": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":{"x":"bar","y":"foo"},"c":3}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(json.RawMessage(`{"memo":"<b>&</b>"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"memo":"<b>&</b>"}`, string(b))
}

func TestCanonicalHash_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalHash(json.RawMessage(`{"amount": 10, "mint":"So11", "slippage_bps":50}`))
	require.NoError(t, err)
	b, err := CanonicalHash([]byte(`{"slippage_bps":50,"mint":"So11","amount":10}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, len("sha256:")+64)

	c, err := CanonicalHash(json.RawMessage(`{"amount": 11, "mint":"So11", "slippage_bps":50}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestJCS_EmptyIsNull(t *testing.T) {
	b, err := JCS(json.RawMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestJCS_Invalid(t *testing.T) {
	_, err := JCS(json.RawMessage(`{"a":`))
	require.Error(t, err)
}
