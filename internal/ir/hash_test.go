package ir

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceIDDeterminism(t *testing.T) {
	id1 := CoerceID("my-run-id")
	id2 := CoerceID("my-run-id")

	assert.Equal(t, id1, id2, "CoerceID must be deterministic")
	assert.Equal(t, "cc8db65a-9620-4e23-a308-cfdcff587e65", id1)
}

func TestCoerceIDLayout(t *testing.T) {
	id := CoerceID("run_123")
	assert.Equal(t, "e17c932e-0849-43ea-a3c3-052e26c07465", id)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.Equal(t, byte('4'), id[14], "version marker")
	assert.Equal(t, byte('a'), id[19], "variant marker")
}

func TestCoerceIDPassesThroughUUIDs(t *testing.T) {
	for _, id := range []string{
		"123e4567-e89b-12d3-a456-426614174000",
		"0190b7a2-6c1e-7c3b-9d4f-0a1b2c3d4e5f",
		uuid.NewString(),
	} {
		assert.Equal(t, id, CoerceID(id))
	}
}

func TestCoerceIDHashesMalformed36Chars(t *testing.T) {
	raw := "this-is-not-a-uuid-but-is-36-chars!!"
	require.Len(t, raw, 36)

	got := CoerceID(raw)
	assert.NotEqual(t, raw, got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestCoerceIDDistinctInputs(t *testing.T) {
	assert.NotEqual(t, CoerceID("a"), CoerceID("b"))
	assert.NotEqual(t, CoerceID("run-1"), CoerceID("run-2"))
}

func TestCoerceIDEmpty(t *testing.T) {
	assert.Equal(t, "", CoerceID(""))
}

func TestCoerceAnyID(t *testing.T) {
	id, err := CoerceAnyID(nil)
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = CoerceAnyID("run_123")
	require.NoError(t, err)
	assert.Equal(t, CoerceID("run_123"), id)

	_, err = CoerceAnyID(42)
	assert.Error(t, err)

	_, err = CoerceAnyID(map[string]any{"id": "x"})
	assert.Error(t, err)
}
