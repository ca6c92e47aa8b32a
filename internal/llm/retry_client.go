package llm

import (
	"context"
	"strings"

	pkmerrors "pkm-assistant/internal/errors"
	"pkm-assistant/internal/logging"
)

// RetryingClient wraps a Client with retry and circuit-breaker protection,
// grounded on the teacher's internal/infra/llm/retry_client.go. Unlike the
// teacher, which retries indefinitely under a configurable policy, this
// wrapper defaults to the ingestion pipeline's "retry once, then degrade"
// LLMError handling (spec.md §7).
type RetryingClient struct {
	underlying Client
	retryCfg   pkmerrors.RetryConfig
	breaker    *pkmerrors.CircuitBreaker
	logger     logging.Logger
}

// NewRetryingClient wraps client with the given retry config and circuit breaker.
func NewRetryingClient(client Client, retryCfg pkmerrors.RetryConfig, breaker *pkmerrors.CircuitBreaker, logger logging.Logger) *RetryingClient {
	return &RetryingClient{
		underlying: client,
		retryCfg:   retryCfg,
		breaker:    breaker,
		logger:     logging.OrNop(logger),
	}
}

// Model implements Client.
func (c *RetryingClient) Model() string { return c.underlying.Model() }

// Complete implements Client.
func (c *RetryingClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return pkmerrors.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) (*CompletionResponse, error) {
		return pkmerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			resp, err := c.underlying.Complete(ctx, req)
			if err != nil {
				return nil, classifyLLMError(err)
			}
			return resp, nil
		})
	}, c.logger)
}

// CompleteJSON implements Client.
func (c *RetryingClient) CompleteJSON(ctx context.Context, req CompletionRequest, dst any) error {
	_, err := pkmerrors.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) (struct{}, error) {
		_, err := pkmerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, classifyLLMError(c.underlying.CompleteJSON(ctx, req, dst))
		})
		return struct{}{}, err
	}, c.logger)
	return err
}

// EmbedQuery implements Client.
func (c *RetryingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return pkmerrors.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) ([]float32, error) {
		return pkmerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) ([]float32, error) {
			v, err := c.underlying.EmbedQuery(ctx, text)
			if err != nil {
				return nil, classifyLLMError(err)
			}
			return v, nil
		})
	}, c.logger)
}

// EmbedDocuments implements Client.
func (c *RetryingClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return pkmerrors.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) ([][]float32, error) {
		return pkmerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) ([][]float32, error) {
			v, err := c.underlying.EmbedDocuments(ctx, texts)
			if err != nil {
				return nil, classifyLLMError(err)
			}
			return v, nil
		})
	}, c.logger)
}

// classifyLLMError maps provider error text to the pipeline's error taxonomy,
// the same heuristic the teacher applies in retry_client.go's classifyLLMError.
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"):
		return pkmerrors.NewTransientError(err, "LLM provider rate limit reached")
	case strings.Contains(lower, "500"), strings.Contains(lower, "502"), strings.Contains(lower, "503"), strings.Contains(lower, "504"):
		return pkmerrors.NewTransientError(err, "LLM provider server error")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"):
		return pkmerrors.NewTransientError(err, "LLM provider unreachable")
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"):
		return pkmerrors.NewPermanentError(err, "LLM provider authentication failed")
	case strings.Contains(lower, "400"), strings.Contains(lower, "bad request"), strings.Contains(lower, "404"):
		return pkmerrors.NewPermanentError(err, "LLM provider rejected the request")
	default:
		return err
	}
}
