// Package llm provides the backend adapters and the fallback registry that
// rotates requests across configured model profiles.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roelfdiedericks/companion/internal/types"
)

// Kind names a backend family. Each kind has exactly one adapter.
type Kind string

const (
	KindGemini    Kind = "gemini"
	KindOpenAI    Kind = "openai"
	KindOllama    Kind = "ollama" // OpenAI-compatible
	KindAnthropic Kind = "anthropic"
	KindXAI       Kind = "xai"
)

// Kinds lists every supported backend family.
var Kinds = []Kind{KindGemini, KindOpenAI, KindOllama, KindAnthropic, KindXAI}

// DefaultTimeout bounds a single attempt when a profile sets no timeout.
const DefaultTimeout = 60 * time.Second

// DefaultMaxTokens is the output limit used when neither the request nor the
// profile sets one.
const DefaultMaxTokens = 2048

// Profile is a named, fully configured backend target. Profiles are read-only
// once the registry is built.
type Profile struct {
	Name              string `json:"name" toml:"name" yaml:"name"`
	Kind              Kind   `json:"kind" toml:"kind" yaml:"kind"`
	BaseURL           string `json:"baseUrl,omitempty" toml:"baseUrl" yaml:"baseUrl,omitempty"`
	APIKey            string `json:"apiKey,omitempty" toml:"apiKey" yaml:"apiKey,omitempty"`
	Model             string `json:"model" toml:"model" yaml:"model"`
	MaxTokens         int    `json:"maxTokens,omitempty" toml:"maxTokens" yaml:"maxTokens,omitempty"`
	WebSearch         *bool  `json:"webSearch,omitempty" toml:"webSearch" yaml:"webSearch,omitempty"` // nil follows the request
	TimeoutSeconds    int    `json:"timeoutSeconds,omitempty" toml:"timeoutSeconds" yaml:"timeoutSeconds,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute,omitempty" toml:"requestsPerMinute" yaml:"requestsPerMinute,omitempty"`
}

// Timeout returns the per-attempt deadline.
func (p Profile) Timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// SearchEnabled resolves the profile override against the request flag.
func (p Profile) SearchEnabled(requested bool) bool {
	if p.WebSearch != nil {
		return *p.WebSearch
	}
	return requested
}

func (p Profile) String() string {
	return fmt.Sprintf("%s(%s/%s)", p.Name, p.Kind, p.Model)
}

// Request is the provider-agnostic shape passed to every adapter.
type Request struct {
	SystemPrompt   string
	History        []types.Turn // prior exchanges, oldest first, preamble excluded
	UserText       string
	MaxTokens      int
	Temperature    *float64
	UseWebSearch   bool
	Thinking       bool
	ThinkingBudget *int // nil lets the backend choose
	ShowThoughts   bool
}

// maxTokensFor resolves the output limit: request, then profile, then
// DefaultMaxTokens.
func (r *Request) maxTokensFor(p Profile) int {
	switch {
	case r.MaxTokens > 0:
		return r.MaxTokens
	case p.MaxTokens > 0:
		return p.MaxTokens
	default:
		return DefaultMaxTokens
	}
}

// thinkingLevel maps the request's budget onto the shared effort scale.
func (r *Request) thinkingLevel() ThinkingLevel {
	if !r.Thinking {
		return ThinkingOff
	}
	if r.ThinkingBudget == nil {
		return DefaultThinkingLevel
	}
	return ThinkingLevelFromBudget(*r.ThinkingBudget)
}

// Result is produced by every adapter for every attempt. Backend-reported
// failures are data; only transport and parse failures set Err.
type Result struct {
	Succeeded      bool
	Partial        bool // accepted despite a length finish
	Text           string
	Thoughts       string
	RawBody        []byte
	HTTPStatus     int
	FinishReason   string
	BlockReason    string
	ErrorMessage   string // backend-reported error text, if any
	PromptTokens   int
	ResponseTokens int
	UsageEstimated bool
	Err            error
	Duration       time.Duration
}

// Evaluate applies the common success predicate: no error, a 2xx status (or
// none for non-HTTP transports), non-empty text, no block and a normal or
// absent finish reason.
func (r *Result) Evaluate() bool {
	r.Succeeded = r.Err == nil &&
		(r.HTTPStatus == 0 || isSuccessStatus(r.HTTPStatus)) &&
		strings.TrimSpace(r.Text) != "" &&
		r.BlockReason == "" &&
		(r.FinishReason == "" || IsNormalStop(r.FinishReason))
	return r.Succeeded
}

// Provider translates a Request into one backend's wire format and parses
// the reply. Send must not panic; all failures are reported on the Result.
type Provider interface {
	Kind() Kind
	Send(ctx context.Context, req *Request, profile Profile) *Result
}

// normalStops is the union of every backend's "finished normally" vocabulary.
var normalStops = map[string]bool{
	"stop":                      true, // OpenAI-compatible
	"end_turn":                  true, // Anthropic
	"stop_sequence":             true,
	"finish_reason_unspecified": true, // Gemini
	"finish_reason_stop":        true, // xAI
}

// lengthReasons signal the output was cut at the token limit.
var lengthReasons = map[string]bool{
	"length":               true,
	"max_tokens":           true,
	"finish_reason_length": true,
	"model_length":         true,
}

// IsNormalStop reports whether a finish reason means the reply is complete.
func IsNormalStop(reason string) bool {
	return normalStops[strings.ToLower(reason)]
}

// IsLengthReason reports whether a finish reason means length exhaustion.
func IsLengthReason(reason string) bool {
	return lengthReasons[strings.ToLower(reason)]
}

// safeInt32 converts int to int32 with bounds checking to prevent overflow.
func safeInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int32(n)
}
