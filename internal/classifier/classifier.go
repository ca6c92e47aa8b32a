// Package classifier implements the Classifier / Enhanced Filter (spec.md
// §4.7): base LLM classification, episodic boost, procedural rule
// evaluation, and the final accept/reject decision. Grounded on the
// teacher's task_analysis_service.go pattern (a short, timeout-bound LLM
// call producing structured output, wrapped by a small service type) and on
// internal/llm's CompleteJSON for the structured-verdict call.
package classifier

import (
	"context"
	"fmt"

	"pkm-assistant/internal/config"
	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/llm"
	"pkm-assistant/internal/logging"
	"pkm-assistant/internal/memory/episodic"
	"pkm-assistant/internal/memory/procedural"
)

const classificationSystemPrompt = `You are a page classifier for a personal knowledge assistant. Given a URL and the first 2000 characters of a page's content, respond with strict JSON:
{"page_type": "knowledge|interactive_app|aggregator|leisure|navigation|other", "confidence": 0.0-1.0, "reasoning": "short explanation", "should_process": true|false}
should_process is false for login pages, error pages, or content with no durable knowledge value.`

// maxContentChars is the "first 2000 chars" spec.md §4.7 step 1 names.
const maxContentChars = 2000

// ClassifierError wraps a base-classification failure (non-conforming JSON
// or an LLM error), per spec.md §4.7 step 1.
type ClassifierError struct {
	URL string
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.URL, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// EpisodicMemory is the subset of episodic.Memory the classifier depends on.
type EpisodicMemory interface {
	GetSimilarDecisions(url, pageType string, accepted bool) ([]domain.EpisodicMemory, error)
	DomainCorrectionCounts(url string) (accepted, rejected int, err error)
	StoreEpisode(ctx context.Context, episode domain.EpisodicMemory, embeddingSource string) (string, error)
}

// ProceduralEngine is the subset of procedural.Engine the classifier depends on.
type ProceduralEngine interface {
	Evaluate(ctx context.Context, visitID string, classification procedural.Context) ([]domain.RuleAction, error)
}

// Classifier is the Enhanced Filter (C9).
type Classifier struct {
	llm       llm.Client
	episodic  EpisodicMemory
	procedure ProceduralEngine
	cfg       config.ClassifierConfig
	logger    logging.Logger
}

// New constructs a Classifier.
func New(client llm.Client, episodicMemory EpisodicMemory, proceduralEngine ProceduralEngine, cfg config.ClassifierConfig, logger logging.Logger) *Classifier {
	return &Classifier{llm: client, episodic: episodicMemory, procedure: proceduralEngine, cfg: cfg, logger: logging.OrNop(logger)}
}

// Classify runs the full pipeline for one visit (spec.md §4.7): base
// classification, episodic boost, procedural evaluation, decision, episode
// recording. When the classifier is disabled, every page is accepted
// without calling the LLM.
func (c *Classifier) Classify(ctx context.Context, visit domain.Visit, features domain.ContentFeatures) (domain.Classification, error) {
	if !c.cfg.Enabled {
		return domain.Classification{FinalDecision: true, DecisionReason: "classifier disabled"}, nil
	}

	base, err := c.baseClassify(ctx, visit)
	if err != nil {
		return domain.Classification{}, err
	}

	result := domain.Classification{Base: base, AdjustedConfidence: base.Confidence}

	simAccepted, simRejected, boost, err := c.episodicBoost(visit.URL, string(base.PageType))
	if err != nil {
		c.logger.Warn("episodic boost lookup failed for %s: %v", visit.URL, err)
	} else {
		result.EpisodicConfidenceBoost = boost
		result.AdjustedConfidence = clamp01(base.Confidence + boost)
	}

	override := c.episodicOverride(visit.URL, simAccepted, simRejected, c.thresholdDecision(base, result.AdjustedConfidence))
	if override.fires && override.boost != 0 {
		result.EpisodicConfidenceBoost = override.boost
		result.AdjustedConfidence = clamp01(base.Confidence + override.boost)
	}

	classificationCtx := procedural.Context{
		"url":            visit.URL,
		"page_type":      string(base.PageType),
		"confidence":     result.AdjustedConfidence,
		"should_process": base.ShouldProcess,
		"content": map[string]any{
			"sample": features.ContentSample,
		},
	}

	actions, err := c.procedure.Evaluate(ctx, visit.ID, classificationCtx)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("procedural evaluation: %w", err)
	}
	result.ProceduralActions = actions

	c.applyDecision(&result, base, override)

	if _, err := c.episodic.StoreEpisode(ctx, domain.EpisodicMemory{
		URL:              visit.URL,
		Timestamp:        visit.PageLoadedAt,
		PageType:         string(base.PageType),
		Confidence:       result.AdjustedConfidence,
		OriginalDecision: result.FinalDecision,
		Reasoning:        base.Reasoning,
		Features:         features,
	}, features.ContentSample); err != nil {
		c.logger.Error("failed to store episode for %s: %v", visit.URL, err)
	}

	return result, nil
}

// applyDecision composes the final accept/reject decision from procedural
// actions, the episodic decision override (spec.md §4.5), and the base
// policy threshold (spec.md §4.7 step 4), in that priority order: an
// explicit procedural rule always wins, since it is the user's own
// configuration; absent one, episodic memory's accumulated corrections can
// override the threshold decision; absent both, the threshold applies.
func (c *Classifier) applyDecision(result *domain.Classification, base domain.BaseClassification, override episodicOverrideResult) {
	for _, a := range result.ProceduralActions {
		switch a.Kind {
		case domain.ActionReject:
			result.FinalDecision = false
			result.DecisionReason = a.Value
			return
		case domain.ActionTag:
			result.Tags = append(result.Tags, a.Value)
		case domain.ActionPriorityBoost:
			result.AdjustedConfidence = clamp01(result.AdjustedConfidence + 0.1)
		}
	}
	for _, a := range result.ProceduralActions {
		if a.Kind == domain.ActionAccept {
			result.FinalDecision = true
			result.DecisionReason = a.Value
			return
		}
	}

	if override.fires {
		result.FinalDecision = override.decision
		result.DecisionReason = override.reason
		return
	}

	result.FinalDecision = c.thresholdDecision(base, result.AdjustedConfidence)
	if result.FinalDecision {
		result.DecisionReason = "policy threshold met"
	} else {
		result.DecisionReason = "policy threshold not met"
	}
}

// thresholdDecision is spec.md §4.7 step 4's fallback rule: accept iff
// page_type is allowed, adjusted confidence clears the policy minimum, and
// the model's should_process flag is true.
func (c *Classifier) thresholdDecision(base domain.BaseClassification, confidence float64) bool {
	allowed := false
	for _, t := range c.cfg.AllowedTypes {
		if t == string(base.PageType) {
			allowed = true
			break
		}
	}
	return allowed && confidence >= c.cfg.MinConfidence && base.ShouldProcess
}

func (c *Classifier) baseClassify(ctx context.Context, visit domain.Visit) (domain.BaseClassification, error) {
	content := visit.RawContent
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	var parsed struct {
		PageType      string  `json:"page_type"`
		Confidence    float64 `json:"confidence"`
		Reasoning     string  `json:"reasoning"`
		ShouldProcess bool    `json:"should_process"`
	}
	err := c.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: classificationSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("URL: %s\n\nContent:\n%s", visit.URL, content)},
		},
	}, &parsed)
	if err != nil {
		return domain.BaseClassification{}, &ClassifierError{URL: visit.URL, Err: err}
	}

	return domain.BaseClassification{
		PageType:      domain.PageType(parsed.PageType),
		Confidence:    clamp01(parsed.Confidence),
		Reasoning:     parsed.Reasoning,
		ShouldProcess: parsed.ShouldProcess,
	}, nil
}

// episodicBoost implements spec.md §4.5's boost computation atop whatever
// similar decisions episodic memory has recorded for this URL's domain and
// page type, returning the counts alongside the boost so episodicOverride
// can reuse them for the similar-correction override without a second
// lookup.
func (c *Classifier) episodicBoost(url, pageType string) (accepted, rejected int, boost float64, err error) {
	acceptedEpisodes, err := c.episodic.GetSimilarDecisions(url, pageType, true)
	if err != nil {
		return 0, 0, 0, err
	}
	rejectedEpisodes, err := c.episodic.GetSimilarDecisions(url, pageType, false)
	if err != nil {
		return 0, 0, 0, err
	}
	accepted, rejected = len(acceptedEpisodes), len(rejectedEpisodes)
	return accepted, rejected, episodic.Boost(accepted, rejected), nil
}

// episodicOverrideResult is the outcome of spec.md §4.5's decision-override
// rules: at most one of the two rules fires per classification.
type episodicOverrideResult struct {
	fires    bool
	decision bool
	reason   string
	boost    float64
}

// episodicOverride evaluates both decision-override rules in spec.md §4.5,
// domain-level first since it carries its own boost magnitude: when it
// fires it supersedes the plain episodic boost entirely. If it does not
// fire, the narrower similar-correction override is tried next.
func (c *Classifier) episodicOverride(url string, simAccepted, simRejected int, baseDecision bool) episodicOverrideResult {
	domAccepted, domRejected, err := c.episodic.DomainCorrectionCounts(url)
	if err != nil {
		c.logger.Warn("domain correction lookup failed for %s: %v", url, err)
	} else if fires, decision, boost := episodic.DomainCorrectionOverride(domAccepted, domRejected); fires {
		direction := "reject"
		if decision {
			direction = "accept"
		}
		return episodicOverrideResult{
			fires:    true,
			decision: decision,
			boost:    boost,
			reason:   fmt.Sprintf("episodic domain pattern (%d reject vs %d accept) overrides decision to %s", domRejected, domAccepted, direction),
		}
	}

	if fires, decision := episodic.SimilarCorrectionOverride(simAccepted, simRejected, baseDecision); fires {
		direction := "reject"
		if decision {
			direction = "accept"
		}
		return episodicOverrideResult{
			fires:    true,
			decision: decision,
			reason:   fmt.Sprintf("episodic similar corrections (%d vs %d) override decision to %s", simRejected, simAccepted, direction),
		}
	}

	return episodicOverrideResult{}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
