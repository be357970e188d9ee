package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	cl100k     tokenizer.Codec
	cl100kOnce sync.Once
	cl100kErr  error
)

// cl100kCodec lazily loads the cl100k_base encoding. Loading the BPE ranks is
// not free, and most requests never ask for a count, so the codec is built on
// first use and shared after that.
func cl100kCodec() (tokenizer.Codec, error) {
	cl100kOnce.Do(func() {
		cl100k, cl100kErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return cl100k, cl100kErr
}

// EstimateTokens counts the tokens text would occupy in a prompt, using
// cl100k_base. The engine uses this to size repair prompts and to answer
// token-estimate requests from the editor; for models with other vocabularies
// the count is an approximation, which is all budget checks need.
func EstimateTokens(text string) (int, error) {
	c, err := cl100kCodec()
	if err != nil {
		return 0, err
	}

	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}

	return len(ids), nil
}

// EstimateTokensSimple is EstimateTokens for call sites that only log the
// count; errors collapse to zero.
func EstimateTokensSimple(text string) int {
	count, err := EstimateTokens(text)
	if err != nil {
		return 0
	}
	return count
}
