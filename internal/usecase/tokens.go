package usecase

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenEncoding is the BPE encoding used for token estimates.
const DefaultTokenEncoding = "cl100k_base"

// TokenCounter estimates token counts for request logs when a provider does
// not report usage. It falls back to len/4 when no encoding is configured or
// the encoding cannot be loaded.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter creates a TokenCounter for the named tiktoken encoding.
// The encoding is loaded lazily on first use; an empty name disables it.
func NewTokenCounter(encoding string) *TokenCounter {
	return &TokenCounter{encoding: encoding}
}

// Count returns the estimated number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		if c.encoding == "" {
			return
		}
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens is the character-based estimate: one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}
