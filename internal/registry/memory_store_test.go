package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/autofill-service/internal/models"
	"github.com/applyflow/autofill-service/internal/registry"
)

func TestLookupManyPartitionsInput(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()

	require.NoError(t, store.Store(ctx, models.FieldRecord{FieldHash: "h2", Label: "Email"}))
	require.NoError(t, store.Store(ctx, models.FieldRecord{FieldHash: "h4", Label: "Phone"}))

	input := []string{"h1", "h2", "h3", "h4", "h5"}
	found, missing, err := store.LookupMany(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h3", "h5"}, missing, "missing preserves input order")
	assert.Len(t, found, 2)

	// Union of the two outputs is exactly the input, with no overlap.
	for _, h := range input {
		_, inFound := found[h]
		inMissing := false
		for _, m := range missing {
			if m == h {
				inMissing = true
			}
		}
		assert.True(t, inFound != inMissing, "hash %s must be in exactly one output", h)
	}
}

func TestLookupManyDeduplicatesInput(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()

	found, missing, err := store.LookupMany(ctx, []string{"h1", "h1", "h2", "h1"})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, []string{"h1", "h2"}, missing)
}

func TestLookupManyEmptyInput(t *testing.T) {
	store := registry.NewMemoryStore()
	found, missing, err := store.LookupMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, missing)
}

func TestStoreIsIdempotentAndLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()

	rec := models.FieldRecord{FieldHash: "h1", Label: "Email", AnswerTemplate: "a@b.c"}
	require.NoError(t, store.Store(ctx, rec))
	require.NoError(t, store.Store(ctx, rec))

	found, _, err := store.LookupMany(ctx, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, rec, found["h1"])

	// Divergent content for the same hash resolves last-writer-wins.
	later := models.FieldRecord{FieldHash: "h1", Label: "Email", AnswerTemplate: "x@y.z"}
	require.NoError(t, store.Store(ctx, later))
	found, _, err = store.LookupMany(ctx, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, later, found["h1"])
}
