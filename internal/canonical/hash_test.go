package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	a, err := StateHash(map[string]any{"n": 1, "list": []any{"x"}})
	require.NoError(t, err)
	b, err := StateHash(map[string]any{"list": []any{"x"}, "n": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order must not affect the fingerprint")
	assert.Len(t, a, 64)
}

func TestHashChangesWithContent(t *testing.T) {
	a, err := StateHash(map[string]any{"n": 1})
	require.NoError(t, err)
	b, err := StateHash(map[string]any{"n": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashDomainSeparation(t *testing.T) {
	state, err := Hash(DomainState, "x")
	require.NoError(t, err)
	trace, err := Hash(DomainTrace, "x")
	require.NoError(t, err)
	assert.NotEqual(t, state, trace)
}

func TestSumNullSeparator(t *testing.T) {
	sum := sha256.Sum256([]byte("d\x00data"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Sum("d", []byte("data")))

	// Moving bytes across the boundary changes the result.
	assert.NotEqual(t, Sum("da", []byte("ta")), Sum("d", []byte("ata")))
}

func TestHashError(t *testing.T) {
	_, err := StateHash(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash:")
}
