package gemini

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// EstimateTokens approximates the prompt token count for usage accounting.
// The BPE here is not the provider's exact tokenizer, so this is an
// estimate; if the codec cannot be loaded it falls back to the usual
// four-characters-per-token heuristic.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		enc, _ = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if enc != nil {
		if ids, _, err := enc.Encode(text); err == nil {
			return len(ids)
		}
	}
	return len(text) / 4
}
