package intake

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/orphan"
	"pkm-assistant/internal/tabhistory"
)

type fakeQueue struct {
	enqueued []domain.Visit
}

func (f *fakeQueue) Enqueue(v domain.Visit) uint64 {
	f.enqueued = append(f.enqueued, v)
	return uint64(len(f.enqueued))
}

func (f *fakeQueue) Len() int { return len(f.enqueued) }

type fakeStore struct {
	saved []domain.Visit
}

func (f *fakeStore) SaveVisit(v domain.Visit) error {
	f.saved = append(f.saved, v)
	return nil
}

func newTestServer() (*Server, *fakeQueue, *fakeStore) {
	q := &fakeQueue{}
	store := &fakeStore{}
	tabs := tabhistory.New(nil)
	orphans := orphan.New(nil)
	return NewServer(q, store, tabs, orphans, nil), q, store
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleVisitQueuesReferrerlessRoot(t *testing.T) {
	s, q, store := newTestServer()

	body := visitPayload{
		URL:          "https://a.com",
		PageLoadedAt: time.Now().Format(time.RFC3339Nano),
		Content:      base64.StdEncoding.EncodeToString([]byte("<html></html>")),
	}
	rec := postJSON(t, s, "/visit", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.enqueued, 1)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "https://a.com", q.enqueued[0].URL)
}

func TestHandleVisitHoldsOrphanAwaitingOpener(t *testing.T) {
	s, q, _ := newTestServer()

	body := visitPayload{
		URL:          "https://a.com/child",
		PageLoadedAt: time.Now().Format(time.RFC3339Nano),
		OpenerTabID:  "tab-unknown",
		Content:      base64.StdEncoding.EncodeToString([]byte("<html></html>")),
	}
	rec := postJSON(t, s, "/visit", body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, q.enqueued)
}

func TestTabEventThenVisitResolvesReferrer(t *testing.T) {
	s, q, _ := newTestServer()

	createdRec := postJSON(t, s, "/tab-event", tabEventPayload{Type: "created", TabID: "tab1"})
	require.Equal(t, http.StatusOK, createdRec.Code)
	updatedRec := postJSON(t, s, "/tab-event", tabEventPayload{Type: "updated", TabID: "tab1", URL: "https://a.com"})
	require.Equal(t, http.StatusOK, updatedRec.Code)

	body := visitPayload{
		URL:          "https://a.com/child",
		PageLoadedAt: time.Now().Format(time.RFC3339Nano),
		OpenerTabID:  "tab1",
		Content:      base64.StdEncoding.EncodeToString([]byte("<html></html>")),
	}
	rec := postJSON(t, s, "/visit", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "https://a.com", q.enqueued[0].Referrer)
}

func TestTabEventDrainsAllOrphansSharingAnOpener(t *testing.T) {
	s, q, _ := newTestServer()

	child1 := visitPayload{
		URL:          "https://a.com/child1",
		PageLoadedAt: time.Now().Format(time.RFC3339Nano),
		OpenerTabID:  "tab1",
		Content:      base64.StdEncoding.EncodeToString([]byte("<html></html>")),
	}
	child2 := visitPayload{
		URL:          "https://a.com/child2",
		PageLoadedAt: time.Now().Format(time.RFC3339Nano),
		OpenerTabID:  "tab1",
		Content:      base64.StdEncoding.EncodeToString([]byte("<html></html>")),
	}
	require.Equal(t, http.StatusAccepted, postJSON(t, s, "/visit", child1).Code)
	require.Equal(t, http.StatusAccepted, postJSON(t, s, "/visit", child2).Code)
	assert.Empty(t, q.enqueued)

	createdRec := postJSON(t, s, "/tab-event", tabEventPayload{Type: "created", TabID: "tab1"})
	require.Equal(t, http.StatusOK, createdRec.Code)
	updatedRec := postJSON(t, s, "/tab-event", tabEventPayload{Type: "updated", TabID: "tab1", URL: "https://a.com"})
	require.Equal(t, http.StatusOK, updatedRec.Code)

	require.Len(t, q.enqueued, 2, "both orphans sharing opener tab1 must drain in one pass")
	urls := []string{q.enqueued[0].URL, q.enqueued[1].URL}
	assert.ElementsMatch(t, []string{"https://a.com/child1", "https://a.com/child2"}, urls)
}

func TestHandleStatusReportsQueueLength(t *testing.T) {
	s, q, _ := newTestServer()
	q.enqueued = append(q.enqueued, domain.Visit{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, 1, snap.QueueLength)
}
