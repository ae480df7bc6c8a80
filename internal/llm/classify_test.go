package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func attempt(name string, r *Result) Attempt {
	return Attempt{Profile: Profile{Name: name}, Result: r}
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name      string
		result    *Result
		want      Category
		truncated bool
	}{
		{"rate limited", &Result{HTTPStatus: 429}, CategoryRateLimited, false},
		{"overloaded", &Result{HTTPStatus: 503}, CategoryOverloaded, false},
		{"anthropic overloaded", &Result{HTTPStatus: 529}, CategoryOverloaded, false},
		{"429 beats finish reason", &Result{HTTPStatus: 429, FinishReason: "length"}, CategoryRateLimited, false},
		{"length", &Result{HTTPStatus: 200, FinishReason: "length"}, CategoryTerminated, true},
		{"gemini max tokens", &Result{HTTPStatus: 200, FinishReason: "MAX_TOKENS"}, CategoryTerminated, true},
		{"safety finish", &Result{HTTPStatus: 200, FinishReason: "SAFETY"}, CategoryTerminated, false},
		{"terminated beats blocked", &Result{FinishReason: "tool_calls", BlockReason: "x"}, CategoryTerminated, false},
		{"blocked", &Result{HTTPStatus: 200, FinishReason: "STOP", BlockReason: "PROHIBITED_CONTENT"}, CategoryBlocked, false},
		{"transport", &Result{Err: errors.New("dial tcp: refused")}, CategoryTransport, false},
		{"malformed 200 body is transport", &Result{HTTPStatus: 200, Err: errors.New("invalid character 'h'")}, CategoryTransport, false},
		{"error with error status is not transport", &Result{HTTPStatus: 500, Err: errors.New("bad json")}, CategoryUnknown, false},
		{"empty reply", &Result{HTTPStatus: 200, FinishReason: "stop"}, CategoryUnknown, false},
		{"server error", &Result{HTTPStatus: 500}, CategoryUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify([]Attempt{attempt("A", tt.result)})
			assert.Equal(t, tt.want, f.Category)
			assert.Equal(t, tt.truncated, f.Truncated)
			assert.NotEmpty(t, f.Message)
			assert.NotContains(t, f.Message, "fallback")
		})
	}
}

func TestClassifyUsesFirstAttempt(t *testing.T) {
	f := Classify([]Attempt{
		attempt("A", &Result{HTTPStatus: 503}),
		attempt("B", &Result{HTTPStatus: 429}),
	})
	assert.Equal(t, CategoryOverloaded, f.Category)
	assert.Contains(t, f.Message, "fallback")
	assert.Contains(t, f.Message, "2")
}

func TestClassifyIgnoresSkipped(t *testing.T) {
	f := Classify([]Attempt{
		{Profile: Profile{Name: "A"}, Skipped: true},
		attempt("B", &Result{HTTPStatus: 429}),
	})
	assert.Equal(t, CategoryRateLimited, f.Category)
	assert.NotContains(t, f.Message, "fallback")
	assert.Contains(t, f.Diagnostic, "profile=A skipped=cooldown")
}

func TestClassifyNoAttempts(t *testing.T) {
	f := Classify(nil)
	assert.Equal(t, CategoryUnknown, f.Category)
	assert.Empty(t, f.Diagnostic)
}

func TestDiagnosticPerAttempt(t *testing.T) {
	f := Classify([]Attempt{
		attempt("fast", &Result{HTTPStatus: 429, RawBody: []byte(`{"error":"slow down"}`), ErrorMessage: "Rate limit reached"}),
		attempt("smart", &Result{HTTPStatus: 200, FinishReason: "length", RawBody: []byte("日本")}),
		attempt("local", &Result{Err: errors.New("dial tcp 127.0.0.1:11434: connection refused")}),
	})

	lines := strings.Split(f.Diagnostic, "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "profile=fast status=429")
	assert.Contains(t, lines[0], "cause=rate_limit")
	assert.Contains(t, lines[0], "bytes=21 chars=21")
	assert.Contains(t, lines[1], "finish=length")
	assert.Contains(t, lines[1], "bytes=6 chars=2")
	assert.Contains(t, lines[2], "status=0")
	assert.Contains(t, lines[2], "connection refused")
}

func TestDiagnosticTruncatesLongReasons(t *testing.T) {
	long := strings.Repeat("x", 500)
	f := Classify([]Attempt{attempt("A", &Result{HTTPStatus: 400, ErrorMessage: long})})
	assert.Less(t, len(f.Diagnostic), 300)
	assert.Contains(t, f.Diagnostic, "...")
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"", ErrorTypeUnknown},
		{"Rate limit reached for requests", ErrorTypeRateLimit},
		{"rpc error: code = ResourceExhausted desc = resource has been exhausted", ErrorTypeRateLimit},
		{"Overloaded", ErrorTypeOverloaded},
		{"Incorrect API key provided", ErrorTypeAuth},
		{"Your credit balance is too low", ErrorTypeBilling},
		{"This model's maximum context length is 8192 tokens", ErrorTypeContextOverflow},
		{"request timed out", ErrorTypeTimeout},
		{"something odd", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMessage(tt.msg), tt.msg)
	}
}

func TestStatusFromMessage(t *testing.T) {
	assert.Equal(t, 429, statusFromMessage("rpc error: code = ResourceExhausted desc = quota exceeded"))
	assert.Equal(t, 503, statusFromMessage("service temporarily unavailable"))
	assert.Equal(t, 401, statusFromMessage("rpc error: code = Unauthenticated"))
	assert.Equal(t, 0, statusFromMessage("stream reset"))
}

func TestThinkingLevelFromBudget(t *testing.T) {
	tests := []struct {
		budget int
		want   ThinkingLevel
	}{
		{-1, ThinkingOff},
		{0, ThinkingOff},
		{512, ThinkingMinimal},
		{1024, ThinkingMinimal},
		{4096, ThinkingLow},
		{10000, ThinkingMedium},
		{24999, ThinkingMedium},
		{25000, ThinkingHigh},
		{100000, ThinkingXHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ThinkingLevelFromBudget(tt.budget), "budget %d", tt.budget)
	}
	assert.Equal(t, "", ThinkingOff.OpenRouterEffort())
	assert.Equal(t, "high", ThinkingXHigh.OpenRouterEffort())
	assert.Nil(t, ThinkingOff.XAIEffort())
	assert.NotNil(t, ThinkingLow.XAIEffort())
}
