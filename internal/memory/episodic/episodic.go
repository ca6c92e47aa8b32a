// Package episodic implements Episodic Memory (spec.md §4.5): every
// classification decision and its later corrections are recorded, and
// similarity/domain-based retrieval biases future decisions via a boost
// computation. Grounded on internal/store/relational's episodic table for
// durable storage and internal/store/vector for the similarity fallback
// path spec.md §4.5 names ("find_similar ... if embeddings unavailable,
// fall back to same-domain search").
package episodic

import (
	"context"
	"fmt"
	"strings"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/store/vector"
)

// Store is the relational subset Memory depends on.
type Store interface {
	SaveEpisode(m domain.EpisodicMemory) error
	AddUserCorrection(episodeID string, correction domain.UserCorrection) error
	FindByDomain(domainName string) ([]domain.EpisodicMemory, error)
	AllEpisodes() ([]domain.EpisodicMemory, error)
	Statistics() (domain.EpisodicStatistics, error)
}

// VectorStore is the embedding-similarity subset Memory depends on.
type VectorStore interface {
	Upsert(ctx context.Context, ns vector.Namespace, id, content string, metadata map[string]string) error
	Query(ctx context.Context, ns vector.Namespace, queryText string, topK int) ([]vector.Match, error)
}

// Memory is the Episodic Memory component.
type Memory struct {
	store Store
	vecs  VectorStore
	idGen func() string
}

// New constructs a Memory. idGen produces episode ids (the caller supplies
// this so the component stays deterministic under test — production wiring
// passes a ulid/uuid generator).
func New(store Store, vecs VectorStore, idGen func() string) *Memory {
	return &Memory{store: store, vecs: vecs, idGen: idGen}
}

// StoreEpisode records one classification decision and embeds its content
// into the episodic_memory vector namespace for later similarity retrieval.
func (m *Memory) StoreEpisode(ctx context.Context, episode domain.EpisodicMemory, embeddingSource string) (string, error) {
	if episode.ID == "" {
		episode.ID = m.idGen()
	}
	episode.Domain = hostOf(episode.URL)

	if err := m.store.SaveEpisode(episode); err != nil {
		return "", fmt.Errorf("store episode: %w", err)
	}

	if embeddingSource != "" && m.vecs != nil {
		meta := map[string]string{"url": episode.URL, "domain": episode.Domain, "page_type": episode.PageType}
		if err := m.vecs.Upsert(ctx, vector.NamespaceEpisodicMemory, episode.ID, embeddingSource, meta); err != nil {
			return episode.ID, fmt.Errorf("embed episode %s: %w", episode.ID, err)
		}
	}
	return episode.ID, nil
}

// AddUserCorrection attaches a correction to an existing episode without
// mutating its original fields.
func (m *Memory) AddUserCorrection(episodeID string, correction domain.UserCorrection) error {
	return m.store.AddUserCorrection(episodeID, correction)
}

// FindSimilar returns the most similar past episodes to content by vector
// similarity; if the vector store is unavailable, it falls back to a
// same-domain search (spec.md §4.5).
func (m *Memory) FindSimilar(ctx context.Context, url, content string, limit int) ([]domain.EpisodicMemory, error) {
	if m.vecs != nil && content != "" {
		matches, err := m.vecs.Query(ctx, vector.NamespaceEpisodicMemory, content, limit)
		if err == nil && len(matches) > 0 {
			ids := make(map[string]bool, len(matches))
			for _, mm := range matches {
				ids[mm.ID] = true
			}
			all, err := m.store.AllEpisodes()
			if err != nil {
				return nil, err
			}
			var out []domain.EpisodicMemory
			for _, e := range all {
				if ids[e.ID] {
					out = append(out, e)
				}
			}
			return out, nil
		}
	}
	return m.GetByDomain(hostOf(url), limit)
}

// GetByDomain returns episodes recorded for domainName, newest first,
// bounded to limit (0 means unbounded).
func (m *Memory) GetByDomain(domainName string, limit int) ([]domain.EpisodicMemory, error) {
	episodes, err := m.store.FindByDomain(domainName)
	if err != nil {
		return nil, fmt.Errorf("get by domain %s: %w", domainName, err)
	}
	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

// GetSimilarDecisions returns the corrected episodes for (url's domain,
// pageType) whose corrected decision equals accepted — the input to the
// boost calculation and the similar-correction override (spec.md §4.5).
func (m *Memory) GetSimilarDecisions(url, pageType string, accepted bool) ([]domain.EpisodicMemory, error) {
	all, err := m.store.FindByDomain(hostOf(url))
	if err != nil {
		return nil, err
	}
	var out []domain.EpisodicMemory
	for _, e := range all {
		if e.PageType != pageType || e.Correction == nil {
			continue
		}
		if e.Correction.CorrectedDecision == accepted {
			out = append(out, e)
		}
	}
	return out, nil
}

// DomainCorrectionCounts counts every correction recorded anywhere in url's
// domain, split by corrected decision, regardless of page_type — the input
// to the domain-level override (spec.md §4.5), which is deliberately broader
// than GetSimilarDecisions' page_type-scoped pool.
func (m *Memory) DomainCorrectionCounts(url string) (accepted, rejected int, err error) {
	all, err := m.store.FindByDomain(hostOf(url))
	if err != nil {
		return 0, 0, err
	}
	for _, e := range all {
		if e.Correction == nil {
			continue
		}
		if e.Correction.CorrectedDecision {
			accepted++
		} else {
			rejected++
		}
	}
	return accepted, rejected, nil
}

// Boost computes the episodic confidence adjustment (spec.md §4.5): given N
// similar past decisions, let a = accepted count, r = rejected count,
// t = a + r. Boost = ((a-r)/t) * 0.2 when t > 0, else 0.
func Boost(accepted, rejected int) float64 {
	t := accepted + rejected
	if t == 0 {
		return 0
	}
	return (float64(accepted-rejected) / float64(t)) * 0.2
}

// minCorrectionAgreement is the "≥ 2 similar corrections agree" threshold
// spec.md §4.5 names for the similar-correction override.
const minCorrectionAgreement = 2

// SimilarCorrectionOverride implements spec.md §4.5's first decision-override
// rule: when at least minCorrectionAgreement similar corrections agree on a
// decision that contradicts baseDecision, the final decision flips to match
// them. accepted/rejected are GetSimilarDecisions(url, pageType, true/false)
// counts.
func SimilarCorrectionOverride(accepted, rejected int, baseDecision bool) (fires bool, decision bool) {
	if baseDecision && rejected >= minCorrectionAgreement && rejected > accepted {
		return true, false
	}
	if !baseDecision && accepted >= minCorrectionAgreement && accepted > rejected {
		return true, true
	}
	return false, false
}

// minDomainCorrections and domainOverrideRatio are the "≥ 3 domain-level
// corrections ... ratio > 2:1" thresholds spec.md §4.5 names for the
// domain-level override.
const (
	minDomainCorrections = 3
	domainOverrideRatio  = 2
	domainOverrideBoost  = 0.2
)

// DomainCorrectionOverride implements spec.md §4.5's second decision-override
// rule: when at least minDomainCorrections domain-level corrections exist
// with a ratio exceeding domainOverrideRatio:1 in one direction, a
// ±domainOverrideBoost magnitude override fires, replacing the plain boost
// and possibly flipping the decision. accepted/rejected come from
// DomainCorrectionCounts.
func DomainCorrectionOverride(accepted, rejected int) (fires bool, decision bool, boost float64) {
	if accepted+rejected < minDomainCorrections {
		return false, false, 0
	}
	if accepted > rejected*domainOverrideRatio {
		return true, true, domainOverrideBoost
	}
	if rejected > accepted*domainOverrideRatio {
		return true, false, -domainOverrideBoost
	}
	return false, false, 0
}

// Statistics reports the episodic memory's summary counters.
func (m *Memory) Statistics() (domain.EpisodicStatistics, error) {
	return m.store.Statistics()
}

func hostOf(rawURL string) string {
	host := rawURL
	if i := strings.Index(rawURL, "://"); i >= 0 {
		host = rawURL[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
