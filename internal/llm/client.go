// Package llm defines the abstract LLM capability the classifier and page
// analyzer depend on — complete, complete_json, embed_query, embed_documents
// — and an OpenAI-compatible implementation, grounded on the teacher's
// internal/infra/llm package (openai_client.go, retry_client.go, mock.go).
package llm

import "context"

// Message is one turn of a chat completion request.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single, non-streaming completion call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// ResponseJSON asks the provider for a strict JSON response when the
	// underlying API supports it (OpenAI's response_format=json_object).
	ResponseJSON bool
}

// TokenUsage mirrors the provider's accounting for a single call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	Content string
	Usage   TokenUsage
}

// Client is the abstract LLM capability (spec §6): every caller in the
// classifier and page-analysis pipeline depends on this interface, never on
// a concrete provider, so providers can be swapped or mocked freely.
type Client interface {
	// Complete returns a free-text completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// CompleteJSON returns a completion whose content is guaranteed to parse
	// as JSON into dst, repairing minor malformed output before decoding.
	CompleteJSON(ctx context.Context, req CompletionRequest, dst any) error
	// EmbedQuery embeds a single piece of text for similarity search.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments embeds a batch of documents for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the underlying model name, for logging and metrics.
	Model() string
}
