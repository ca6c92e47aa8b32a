// Package domain holds the types shared across the ingestion pipeline:
// visits, tab history, trees, analyses, and memory records.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Visit is one observed page load.
type Visit struct {
	ID                string
	URL               string
	PageLoadedAt      time.Time
	Referrer          string
	ReferrerTimestamp time.Time
	OpenerTabID       string
	RawContent        string
	TreeID            string
}

// VisitID computes the deterministic visit id: md5("{url}:{page_loaded_at}").
// page_loaded_at is formatted as RFC3339Nano to match the wire format the
// intake payload carries.
func VisitID(url string, pageLoadedAt time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", url, pageLoadedAt.UTC().Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])
}

// HasReferrer reports whether the visit carries a referrer that is neither
// empty nor "about:blank".
func (v Visit) HasReferrer() bool {
	return v.Referrer != "" && v.Referrer != "about:blank"
}

// TabHistory is the per-tab ordered navigation chain tracked by the Tab
// History Tracker (C2).
type TabHistory struct {
	TabID       string
	CurrentURL  string
	CurrentAt   time.Time
	PreviousURL string
	PreviousAt  time.Time
	OpenerTabID string
}

// Orphan is a Visit awaiting its opener tab.
type Orphan struct {
	Visit       Visit
	OpenerTabID string
	ArrivedAt   time.Time
	RetryCount  int
}
