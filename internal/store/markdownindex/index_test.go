package markdownindex

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAppendsNewBulletUnderWebpagesHeading(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(Config{Path: filepath.Join(dir, "index.md"), Heading: "Knowledge Base"}, nil)
	require.NoError(t, err)

	loadedAt := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(context.Background(), Entry{
		URL:      "https://docs.example.com/intro",
		LoadedAt: loadedAt,
		Title:    "Intro",
	}))

	data, err := os.ReadFile(filepath.Join(dir, "index.md"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# Knowledge Base\n\n")
	assert.Contains(t, content, webpagesHeading+"\n\n")
	assert.Contains(t, content, "- [Intro](https://docs.example.com/intro) [2024-01-15 10:00]")
	assert.True(t, strings.HasSuffix(content, "\n\n"), "file should end with a trailing blank line")
}

func TestUpsertRendersSummaryReferrerAndIntentionsAsChildBullets(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(Config{Path: filepath.Join(dir, "index.md")}, nil)
	require.NoError(t, err)

	loadedAt := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(context.Background(), Entry{
		URL:        "https://docs.example.com/intro",
		LoadedAt:   loadedAt,
		Title:      "Intro",
		Summary:    "An introduction to the docs.",
		Referrer:   "https://example.com/",
		Intentions: []string{"learning", "reference"},
	}))

	data, err := os.ReadFile(filepath.Join(dir, "index.md"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "  - Summary: An introduction to the docs.\n")
	assert.Contains(t, content, "  - Referrer: https://example.com/\n")
	assert.Contains(t, content, "  - Intentions: learning, reference\n")
}

func TestUpsertSamePairReplacesBulletInPlace(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(Config{Path: filepath.Join(dir, "index.md"), Heading: "Knowledge Base"}, nil)
	require.NoError(t, err)

	loadedAt := time.UnixMilli(1700000000000)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, Entry{URL: "https://example.com/a", LoadedAt: loadedAt, Title: "Example A", Summary: "first summary"}))
	require.NoError(t, idx.Upsert(ctx, Entry{URL: "https://example.com/a", LoadedAt: loadedAt, Title: "Example A Updated", Summary: "revised summary"}))

	data, err := os.ReadFile(filepath.Join(dir, "index.md"))
	require.NoError(t, err)
	content := string(data)

	assert.NotContains(t, content, "first summary")
	assert.Contains(t, content, "revised summary")
	assert.Equal(t, 1, countOccurrences(content, "pkm-key:"))
}

func TestUpsertDifferentLoadTimeAppendsSeparateBullet(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(Config{Path: filepath.Join(dir, "index.md"), Heading: "Knowledge Base"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, Entry{URL: "https://example.com/a", LoadedAt: time.UnixMilli(1), Title: "Visit 1", Summary: "first"}))
	require.NoError(t, idx.Upsert(ctx, Entry{URL: "https://example.com/a", LoadedAt: time.UnixMilli(2), Title: "Visit 2", Summary: "second"}))

	data, err := os.ReadFile(filepath.Join(dir, "index.md"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "first")
	assert.Contains(t, content, "second")
	assert.Equal(t, 2, countOccurrences(content, "pkm-key:"))
	assert.Equal(t, 1, countOccurrences(content, webpagesHeading))
}

func TestParseKeyRoundTrips(t *testing.T) {
	loadedAt := time.UnixMilli(1700000000000)
	key := entryKey("https://example.com/a", loadedAt)

	url, parsed, ok := ParseKey(key)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", url)
	assert.True(t, parsed.Equal(loadedAt))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
