package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests, grounded on the teacher's
// internal/infra/llm/mock.go: callers queue canned responses and MockClient
// pops one per call, recording every request it was given.
type MockClient struct {
	mu sync.Mutex

	modelName     string
	completions   []completionResult
	jsonResponses []jsonResult
	embeddings    [][]float32

	Requests []CompletionRequest
}

type completionResult struct {
	resp *CompletionResponse
	err  error
}

type jsonResult struct {
	payload []byte
	err     error
}

// NewMockClient constructs an empty MockClient for model.
func NewMockClient(model string) *MockClient {
	return &MockClient{modelName: model}
}

// Model implements Client.
func (m *MockClient) Model() string { return m.modelName }

// QueueCompletion schedules the next Complete call to return content, nil.
func (m *MockClient) QueueCompletion(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, completionResult{resp: &CompletionResponse{Content: content}})
	return m
}

// QueueCompletionError schedules the next Complete call to fail with err.
func (m *MockClient) QueueCompletionError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, completionResult{err: err})
	return m
}

// QueueJSON schedules the next CompleteJSON call to decode into v.
func (m *MockClient) QueueJSON(v any) *MockClient {
	payload, err := json.Marshal(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonResponses = append(m.jsonResponses, jsonResult{payload: payload, err: err})
	return m
}

// QueueJSONError schedules the next CompleteJSON call to fail with err.
func (m *MockClient) QueueJSONError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonResponses = append(m.jsonResponses, jsonResult{err: err})
	return m
}

// QueueEmbedding schedules the next embedding call to return vector.
func (m *MockClient) QueueEmbedding(vector []float32) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = append(m.embeddings, vector)
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if len(m.completions) == 0 {
		return nil, fmt.Errorf("mock llm client: no queued completion")
	}
	next := m.completions[0]
	m.completions = m.completions[1:]
	return next.resp, next.err
}

// CompleteJSON implements Client.
func (m *MockClient) CompleteJSON(_ context.Context, req CompletionRequest, dst any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if len(m.jsonResponses) == 0 {
		return fmt.Errorf("mock llm client: no queued json response")
	}
	next := m.jsonResponses[0]
	m.jsonResponses = m.jsonResponses[1:]
	if next.err != nil {
		return next.err
	}
	return json.Unmarshal(next.payload, dst)
}

// EmbedQuery implements Client.
func (m *MockClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments implements Client.
func (m *MockClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.embeddings) < len(texts) {
		return nil, fmt.Errorf("mock llm client: not enough queued embeddings")
	}
	out := m.embeddings[:len(texts)]
	m.embeddings = m.embeddings[len(texts):]
	return out, nil
}

var _ Client = (*MockClient)(nil)
