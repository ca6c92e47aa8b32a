package domain

// PageType enumerates the base classifier's verdict categories.
type PageType string

const (
	PageTypeKnowledge   PageType = "knowledge"
	PageTypeInteractive PageType = "interactive_app"
	PageTypeAggregator  PageType = "aggregator"
	PageTypeLeisure     PageType = "leisure"
	PageTypeNavigation  PageType = "navigation"
	PageTypeOther       PageType = "other"
)

// BaseClassification is the raw structured-JSON verdict from the LLM.
type BaseClassification struct {
	PageType      PageType
	Confidence    float64
	Reasoning     string
	ShouldProcess bool
}

// Classification is the full per-visit verdict after episodic boost and
// procedural rule evaluation have been applied.
type Classification struct {
	Base                    BaseClassification
	EpisodicConfidenceBoost float64
	AdjustedConfidence      float64
	ProceduralActions       []RuleAction
	AppliedRules            []string
	Tags                    []string
	FinalDecision           bool
	DecisionReason          string
}
