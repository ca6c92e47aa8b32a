// Package workflow implements the Reconciliation Workflow (spec.md §4.8):
// the ordered, fail-fast pipeline each visit runs through once it clears
// the Visit Queue — filter, content extraction, page analysis, persistence,
// tree reconciliation, and markdown publication. Grounded on the teacher's
// subagent orchestrator (internal/agent/app/subagent.go) for the
// step-sequencing idiom (explicit ordered stages, each returning early on
// error) and on internal/llm for the three LLM calls this pipeline makes
// (content extraction, page analysis, tree intentions).
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/llm"
	"pkm-assistant/internal/logging"
	"pkm-assistant/internal/store/vector"
)

const (
	contentExtractionSystemPrompt = `Convert the given raw HTML into clean Markdown. Strip navigation chrome, ads, cookie notices, and scripts. Preserve headings, code blocks, and inline images by their URL. Respond with Markdown only, no commentary.`

	pageAnalysisSystemPrompt = `Given a page's URL and cleaned Markdown content, respond with strict JSON: {"title": "string", "summary": "<=50 words", "intentions": ["string", ...]}. intentions are short phrases describing what the reader is trying to accomplish on this page.`

	treeIntentionsSystemPrompt = `Given an ordered sequence of pages visited in one browsing session (URL, title, summary), respond with strict JSON mapping each page's 1-based index (as a string) to an array of updated intention phrases that account for the whole sequence, not just the individual page.`
)

// RelationalStore is the subset of relational.Store the workflow depends on.
type RelationalStore interface {
	SavePageAnalysis(a domain.PageAnalysis) error
	GetPageAnalysis(visitID string) (*domain.PageAnalysis, error)
	SaveTreeIntentions(ti domain.TreeIntentions) error
}

// TreeAssigner is the subset of tree.Service the workflow depends on.
type TreeAssigner interface {
	Assign(ctx context.Context, visit domain.Visit) (string, error)
	Members(treeID string) ([]domain.TreeMember, error)
	Publish(ctx context.Context, treeID string) error
}

// VectorStore is the subset of vector.Store the workflow depends on.
type VectorStore interface {
	Upsert(ctx context.Context, ns vector.Namespace, id, content string, metadata map[string]string) error
}

// Classifier is the subset of classifier.Classifier the workflow depends on.
type Classifier interface {
	Classify(ctx context.Context, visit domain.Visit, features domain.ContentFeatures) (domain.Classification, error)
}

// sequenceMember is one page analysis, as considered during tree reconciliation.
type sequenceMember struct {
	VisitID string
	URL     string
	Title   string
	Summary string
}

// MetricsSink is the narrow metrics contract the workflow reports per-step
// latency and failures through; satisfied structurally by
// *observability.Metrics without this package depending on it directly.
type MetricsSink interface {
	ObserveWorkflowStep(step string, seconds float64)
	RecordWorkflowStepFailure(step string)
}

// Workflow runs the Reconciliation Workflow's six steps per visit.
type Workflow struct {
	classifier Classifier
	llm        llm.Client
	relational RelationalStore
	vectors    VectorStore
	trees      TreeAssigner
	logger     logging.Logger
	metrics    MetricsSink
}

// New constructs a Workflow.
func New(c Classifier, client llm.Client, relational RelationalStore, vectors VectorStore, trees TreeAssigner, logger logging.Logger) *Workflow {
	return &Workflow{classifier: c, llm: client, relational: relational, vectors: vectors, trees: trees, logger: logging.OrNop(logger)}
}

// SetMetrics attaches a metrics sink the workflow reports each step's
// latency and failures to.
func (w *Workflow) SetMetrics(m MetricsSink) {
	w.metrics = m
}

func (w *Workflow) timeStep(step string, start time.Time, err error) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveWorkflowStep(step, time.Since(start).Seconds())
	if err != nil {
		w.metrics.RecordWorkflowStepFailure(step)
	}
}

// Handle implements queue.Handler: it runs the six-step pipeline for visit,
// fail-fast — the first failing step ends the run and its error is returned.
// Writes already made are not rolled back: a failure in step 4 or 5 keeps
// whatever that step, or an earlier one, had already persisted (for example
// the page analysis saved before a failed vector upsert).
func (w *Workflow) Handle(ctx context.Context, visit domain.Visit) error {
	features := ExtractFeatures("", visit.RawContent)

	// 1. Filter gate.
	classifyStart := time.Now()
	classification, err := w.classifier.Classify(ctx, visit, features)
	w.timeStep("classify", classifyStart, err)
	if err != nil {
		return fmt.Errorf("classify %s: %w", visit.URL, err)
	}
	if !classification.FinalDecision {
		w.logger.Info("visit %s rejected: %s", visit.URL, classification.DecisionReason)
		return nil
	}

	// 2. Content extraction.
	extractStart := time.Now()
	cleaned, err := w.extractContent(ctx, visit.RawContent)
	w.timeStep("extract_content", extractStart, err)
	if err != nil {
		return fmt.Errorf("extract content %s: %w", visit.URL, err)
	}

	// 3. Page analysis.
	analyzeStart := time.Now()
	analysis, err := w.analyzePage(ctx, visit.URL, cleaned)
	w.timeStep("analyze_page", analyzeStart, err)
	if err != nil {
		return fmt.Errorf("analyze page %s: %w", visit.URL, err)
	}
	analysis.VisitID = visit.ID

	// 4. Persist analysis.
	if err := w.relational.SavePageAnalysis(analysis); err != nil {
		return fmt.Errorf("save page analysis %s: %w", visit.URL, err)
	}
	if err := w.vectors.Upsert(ctx, vector.NamespaceWebpageContent, visit.ID, cleaned, map[string]string{"url": visit.URL}); err != nil {
		return fmt.Errorf("store webpage content %s: %w", visit.URL, err)
	}

	// 5. Tree reconciliation.
	treeStart := time.Now()
	treeID, err := w.trees.Assign(ctx, visit)
	if err != nil {
		w.timeStep("tree_reconcile", treeStart, err)
		return fmt.Errorf("assign tree %s: %w", visit.URL, err)
	}

	members, err := w.trees.Members(treeID)
	if err != nil {
		w.timeStep("tree_reconcile", treeStart, err)
		return fmt.Errorf("load tree members %s: %w", treeID, err)
	}
	if len(members) > 1 {
		sequence := w.toSequence(members)
		if err := w.ReconcileTreeIntentions(ctx, treeID, sequence); err != nil {
			w.timeStep("tree_reconcile", treeStart, err)
			return err
		}
	}

	// 6. Markdown publication, strictly after tree-intentions persistence
	// (spec.md §4.8 step 6) so the published bullet's Intentions line
	// reflects what step 5 just computed rather than a stale read.
	if err := w.trees.Publish(ctx, treeID); err != nil {
		w.timeStep("tree_reconcile", treeStart, err)
		return fmt.Errorf("publish tree %s: %w", treeID, err)
	}

	w.timeStep("tree_reconcile", treeStart, nil)
	return nil
}

// toSequence loads each member's page analysis (title/summary) to build the
// sequence view the tree-intentions LLM call operates over.
func (w *Workflow) toSequence(members []domain.TreeMember) []sequenceMember {
	out := make([]sequenceMember, 0, len(members))
	for _, m := range members {
		title, summary := m.URL, ""
		if a, err := w.relational.GetPageAnalysis(m.VisitID); err == nil && a != nil {
			title, summary = a.Title, a.Summary
		}
		out = append(out, sequenceMember{VisitID: m.VisitID, URL: m.URL, Title: title, Summary: summary})
	}
	return out
}

func (w *Workflow) extractContent(ctx context.Context, rawHTML string) (string, error) {
	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: contentExtractionSystemPrompt},
			{Role: "user", Content: rawHTML},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (w *Workflow) analyzePage(ctx context.Context, url, markdown string) (domain.PageAnalysis, error) {
	var parsed struct {
		Title      string   `json:"title"`
		Summary    string   `json:"summary"`
		Intentions []string `json:"intentions"`
	}
	err := w.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: pageAnalysisSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("URL: %s\n\n%s", url, markdown)},
		},
	}, &parsed)
	if err != nil {
		return domain.PageAnalysis{}, err
	}
	return domain.PageAnalysis{Title: parsed.Title, Summary: parsed.Summary, Intentions: parsed.Intentions}, nil
}

// ReconcileTreeIntentions asks the LLM for updated per-page intentions
// across a whole tree sequence once the tree has more than one member
// (spec.md §4.8 step 5), and persists the result.
func (w *Workflow) ReconcileTreeIntentions(ctx context.Context, treeID string, members []sequenceMember) error {
	if len(members) <= 1 {
		return nil
	}

	var sb strings.Builder
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s — %s — %s\n", i+1, m.URL, m.Title, m.Summary)
	}

	var parsed map[string][]string
	err := w.llm.CompleteJSON(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: treeIntentionsSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
	}, &parsed)
	if err != nil {
		return fmt.Errorf("reconcile tree intentions %s: %w", treeID, err)
	}

	byVisitID := make(map[string][]string, len(parsed))
	for idxStr, intentions := range parsed {
		idx, err := parseIndex(idxStr)
		if err != nil || idx < 1 || idx > len(members) {
			continue
		}
		byVisitID[members[idx-1].VisitID] = intentions
	}

	return w.relational.SaveTreeIntentions(domain.TreeIntentions{TreeID: treeID, ByVisitID: byVisitID})
}

func parseIndex(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
