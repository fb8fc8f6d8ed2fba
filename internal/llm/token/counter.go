// Package token counts tokens, prices model calls, and keeps the per-call
// usage ledger.
package token

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message is the minimal shape the counter needs to charge provider
// message framing.
type Message struct {
	Role    string
	Content string
}

// Provider framing overhead, matching the chat-completion wire format:
// every message costs a fixed envelope on top of its content, and the
// reply is primed with a fixed assistant preamble.
const (
	msgEnvelopeTokens   = 3
	replyPrimingTokens  = 3
	fallbackCharsPerTok = 4
)

// encodingForModel maps model-name prefixes to tiktoken encodings.
// Longest prefix wins.
var encodingForModel = map[string]string{
	"gpt-4o":        "o200k_base",
	"o1":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// Counter counts tokens under a model's tokenizer family, falling back to
// a conservative length/4 estimate when no encoder is available.
// Counter is safe for concurrent use.
type Counter struct {
	encoders map[string]*tiktoken.Tiktoken
	mu       sync.Mutex
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text under model's tokenizer.
// It never fails: unknown models and encoder errors degrade to the
// length/4 estimate.
func (c *Counter) Count(text string, model string) int {
	if text == "" {
		return 0
	}
	enc := c.encoder(model)
	if enc == nil {
		return estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages counts a message sequence the way the provider bills it:
// content plus a fixed per-message envelope, plus the reply priming
// overhead.
func (c *Counter) CountMessages(messages []Message, model string) int {
	total := replyPrimingTokens
	for _, m := range messages {
		total += msgEnvelopeTokens
		total += c.Count(m.Role, model)
		total += c.Count(m.Content, model)
	}
	return total
}

func (c *Counter) encoder(model string) *tiktoken.Tiktoken {
	name := encodingName(model)
	if name == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		// Cache the miss so we don't retry on every call.
		c.encoders[name] = nil
		return nil
	}
	c.encoders[name] = enc
	return enc
}

func encodingName(model string) string {
	prefixes := make([]string, 0, len(encodingForModel))
	for p := range encodingForModel {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return encodingForModel[p]
		}
	}
	return ""
}

func estimate(text string) int {
	n := len(text) / fallbackCharsPerTok
	if n == 0 {
		n = 1
	}
	return n
}
