package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a fair approximation for every
// supported provider.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text.
func EstimateTokens(text string) (int, error) {
	c, err := getCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// TruncateTokens keeps the first max tokens of text and appends a marker
// naming how many were dropped. If the tokenizer is unavailable it falls back
// to four bytes per token.
func TruncateTokens(text string, max int) (string, bool) {
	if max <= 0 || text == "" {
		return text, false
	}
	c, err := getCodec()
	if err != nil {
		return truncateBytes(text, max*4)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return truncateBytes(text, max*4)
	}
	if len(ids) <= max {
		return text, false
	}
	head, err := c.Decode(ids[:max])
	if err != nil {
		return truncateBytes(text, max*4)
	}
	return head + fmt.Sprintf("\n[truncated %d tokens]", len(ids)-max), true
}

func truncateBytes(text string, max int) (string, bool) {
	if len(text) <= max {
		return text, false
	}
	return text[:max] + fmt.Sprintf("\n[truncated %d bytes]", len(text)-max), true
}
