package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classificationStub struct {
	PageType   string  `json:"page_type"`
	Confidence float64 `json:"confidence"`
}

func TestMockClientCompleteJSONDecodesQueuedPayload(t *testing.T) {
	mock := NewMockClient("test-model").QueueJSON(classificationStub{PageType: "knowledge", Confidence: 0.9})

	var out classificationStub
	err := mock.CompleteJSON(context.Background(), CompletionRequest{}, &out)
	require.NoError(t, err)
	assert.Equal(t, "knowledge", out.PageType)
	assert.Equal(t, 0.9, out.Confidence)
}

func TestMockClientEmbedDocumentsConsumesQueueInOrder(t *testing.T) {
	mock := NewMockClient("embed-model").
		QueueEmbedding([]float32{1, 0}).
		QueueEmbedding([]float32{0, 1})

	vectors, err := mock.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
}

func TestMockClientEmbedDocumentsErrorsWhenStarved(t *testing.T) {
	mock := NewMockClient("embed-model").QueueEmbedding([]float32{1})
	_, err := mock.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}
