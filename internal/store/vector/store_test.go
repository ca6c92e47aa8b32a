package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbed is a deterministic, dependency-free stand-in for a real LLM
// embedding call, sufficient to exercise chromem-go's cosine-similarity path.
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%len(vec)] += float32(r % 7)
	}
	return vec, nil
}

func TestUpsertAndQueryRoundTrips(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), hashEmbed)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NamespaceWebpageContent, "v1", "golang concurrency patterns", map[string]string{"domain": "go.dev"}))
	require.NoError(t, s.Upsert(ctx, NamespaceWebpageContent, "v2", "cooking pasta recipes", map[string]string{"domain": "food.com"}))

	matches, err := s.Query(ctx, NamespaceWebpageContent, "golang concurrency patterns", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "v1", matches[0].ID)
}

func TestQueryOnEmptyNamespaceReturnsNoMatches(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), hashEmbed)
	require.NoError(t, err)

	matches, err := s.Query(context.Background(), NamespaceEpisodicMemory, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteRemovesDocument(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), hashEmbed)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, NamespaceNoteDescriptions, "n1", "note about rust ownership", nil))
	require.NoError(t, s.Delete(ctx, NamespaceNoteDescriptions, "n1"))

	matches, err := s.Query(ctx, NamespaceNoteDescriptions, "note about rust ownership", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
