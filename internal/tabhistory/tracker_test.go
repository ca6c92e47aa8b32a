package tabhistory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnTabUpdatedShiftsCurrentIntoPrevious(t *testing.T) {
	tr := New(nil)
	t0 := time.Now()
	tr.OnTabUpdated("tab1", "https://a.com", t0)
	tr.OnTabUpdated("tab1", "https://b.com", t0.Add(time.Minute))

	ref, refAt, _, ok := tr.GetReferrer("tab1")
	assert.True(t, ok)
	assert.Equal(t, "https://a.com", ref)
	assert.True(t, refAt.Equal(t0))
}

func TestOnTabCreatedRecordsOpener(t *testing.T) {
	tr := New(nil)
	tr.OnTabCreated("tab2", "tab1", time.Now())

	_, _, opener, ok := tr.GetReferrer("tab2")
	assert.True(t, ok)
	assert.Equal(t, "tab1", opener)
}

func TestOnTabRemovedForgetsHistory(t *testing.T) {
	tr := New(nil)
	tr.OnTabUpdated("tab1", "https://a.com", time.Now())
	tr.OnTabRemoved("tab1")

	_, _, _, ok := tr.GetReferrer("tab1")
	assert.False(t, ok)
}

func TestInPageNavigationTreatedLikeFullNavigation(t *testing.T) {
	tr := New(nil)
	t0 := time.Now()
	tr.OnTabUpdated("tab1", "https://spa.com/#/home", t0)
	tr.OnInPageNavigation("tab1", "https://spa.com/#/profile", t0.Add(time.Second))

	ref, _, _, ok := tr.GetReferrer("tab1")
	assert.True(t, ok)
	assert.Equal(t, "https://spa.com/#/home", ref)
}
