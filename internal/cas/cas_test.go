package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMs(t *testing.T) {
	// Year 2024 in milliseconds is approximately 1704067200000
	assert.Greater(t, NowMs(), int64(1704067200000))
}

func TestCanonicalJSON_SortsNestedKeys(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": []any{map[string]any{"y": 1, "x": 2}},
	}
	out, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"x":2,"y":1}],"z":{"a":2,"b":1}}`, string(out))
}

func TestCanonicalJSON_Struct(t *testing.T) {
	type row struct {
		To   int64 `json:"to"`
		From int64 `json:"from"`
	}
	out, err := CanonicalJSON(row{To: 2, From: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"from":1,"to":2}`, string(out))
}

func TestBlake3HashHex(t *testing.T) {
	h := Blake3HashHex([]byte("hello"))
	assert.Len(t, h, 64)
	assert.Equal(t, h, Blake3HashHex([]byte("hello")))
	assert.NotEqual(t, h, Blake3HashHex([]byte("hello!")))
}

func TestDigest_KindSeparates(t *testing.T) {
	payload := map[string]any{"n": 1}
	a, err := Digest("groups", payload)
	require.NoError(t, err)
	b, err := Digest("edges", payload)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := Digest("groups", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestNewBlake3Hasher_MatchesOneShot(t *testing.T) {
	h := NewBlake3Hasher()
	h.Write([]byte("hel"))
	h.Write([]byte("lo"))
	assert.Equal(t, Blake3Hash([]byte("hello")), h.Sum(nil))
}

func TestCanonicalJSON_KeepsLargeIntegers(t *testing.T) {
	out, err := CanonicalJSON(map[string]int64{"id": 9007199254740993})
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(out))
}
