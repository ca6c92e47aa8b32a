package orphan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/domain"
)

func TestAddAndTakeForResolvesByOpener(t *testing.T) {
	m := New(nil)
	v := domain.Visit{ID: "v1", URL: "https://a.com"}
	m.Add(v, "tab1", time.Now())

	orphans := m.TakeFor("tab1")
	require.Len(t, orphans, 1)
	assert.Equal(t, "v1", orphans[0].Visit.ID)

	assert.Empty(t, m.TakeFor("tab1"))
}

func TestTakeForReturnsAllOrphansSharingAnOpener(t *testing.T) {
	m := New(nil)
	m.Add(domain.Visit{ID: "v1", URL: "https://a.com/1"}, "tab1", time.Now())
	m.Add(domain.Visit{ID: "v2", URL: "https://a.com/2"}, "tab1", time.Now())
	m.Add(domain.Visit{ID: "v3", URL: "https://a.com/3"}, "tab2", time.Now())

	orphans := m.TakeFor("tab1")
	require.Len(t, orphans, 2)
	ids := []string{orphans[0].Visit.ID, orphans[1].Visit.ID}
	assert.ElementsMatch(t, []string{"v1", "v2"}, ids)

	assert.Len(t, m.TakeFor("tab2"), 1)
}

func TestRetryableDropsExpiredOrphans(t *testing.T) {
	m := New(nil)
	v := domain.Visit{ID: "v1", URL: "https://a.com"}
	arrived := time.Now().Add(-2 * TTL)
	m.Add(v, "tab1", arrived)

	retryable := m.Retryable(time.Now())
	assert.Empty(t, retryable)
	assert.Equal(t, 1, m.Stats().Dropped)
}

func TestRetryableDropsAfterMaxRetries(t *testing.T) {
	m := New(nil)
	v := domain.Visit{ID: "v1", URL: "https://a.com"}
	m.Add(v, "tab1", time.Now())

	for i := 0; i < MaxRetries; i++ {
		m.Bump("v1")
	}

	retryable := m.Retryable(time.Now())
	assert.Empty(t, retryable)
	assert.Equal(t, 1, m.Stats().Dropped)
}

func TestRetryableReturnsFreshOrphans(t *testing.T) {
	m := New(nil)
	v := domain.Visit{ID: "v1", URL: "https://a.com"}
	m.Add(v, "tab1", time.Now())

	retryable := m.Retryable(time.Now())
	require.Len(t, retryable, 1)
	assert.Equal(t, "v1", retryable[0].Visit.ID)
}
