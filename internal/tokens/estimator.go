// Package tokens estimates token counts for backends that report no usage.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// Estimator counts tokens with tiktoken. The zero Estimator falls back to a
// character heuristic and never loads an encoding.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

// DefaultEncoding is cl100k_base, close enough for every supported backend.
const DefaultEncoding = "cl100k_base"

// MessageOverhead approximates the role and framing tokens per message.
const MessageOverhead = 4

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the shared estimator, loading the encoding on first use.
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: failed to load encoding, using fallback", "encoding", DefaultEncoding, "error", err)
			globalEstimator = &Estimator{}
		}
	})
	return globalEstimator
}

// New creates an estimator for DefaultEncoding.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.encoding == nil {
		return fallbackCount(text)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages sums Count plus MessageOverhead for each non-empty message.
func (e *Estimator) CountMessages(texts ...string) int {
	total := 0
	for _, t := range texts {
		if t == "" {
			continue
		}
		total += e.Count(t) + MessageOverhead
	}
	return total
}

// fallbackCount is about four bytes per token for Latin text; scripts with
// multi-byte characters count one token per character at most.
func fallbackCount(text string) int {
	n := (len(text) + 3) / 4
	if runes := utf8.RuneCountInString(text); runes < n {
		n = runes
	}
	return max(n, 1)
}

// Estimate is a convenience function using the shared estimator.
func Estimate(text string) int {
	return Get().Count(text)
}
