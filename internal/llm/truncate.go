package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used when the model name has no known tiktoken mapping;
// cl100k_base covers every GPT-3.5/4-era model family this project targets.
const fallbackEncoding = "cl100k_base"

// TruncateToTokens trims text to at most maxTokens tokens for model. The
// workflow and the retrying client do not call it; LLM requests are sent
// untruncated.
func TruncateToTokens(text string, maxTokens int, model string) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return text
		}
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}

// CountTokens counts text's tokens for model, falling back to cl100k_base.
func CountTokens(text string, model string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0
		}
	}
	return len(enc.Encode(text, nil, nil))
}
