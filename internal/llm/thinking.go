package llm

import "github.com/roelfdiedericks/xai-go"

// ThinkingLevel is the effort level for extended thinking/reasoning. It is
// mapped to each backend's own parameter.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// DefaultThinkingLevel is used when thinking is requested without a budget.
const DefaultThinkingLevel = ThinkingMedium

// MinThinkingBudget is the smallest budget every backend accepts.
const MinThinkingBudget = 1024

// ThinkingLevelFromBudget picks the level whose budget is the closest one not
// above budget. Zero or negative disables thinking.
func ThinkingLevelFromBudget(budget int) ThinkingLevel {
	switch {
	case budget <= 0:
		return ThinkingOff
	case budget < 4096:
		return ThinkingMinimal
	case budget < 10000:
		return ThinkingLow
	case budget < 25000:
		return ThinkingMedium
	case budget < 50000:
		return ThinkingHigh
	default:
		return ThinkingXHigh
	}
}

// IsEnabled returns true if thinking is enabled (level is not "off")
func (l ThinkingLevel) IsEnabled() bool {
	return l != ThinkingOff && l != ""
}

func (l ThinkingLevel) String() string {
	return string(l)
}

// OpenRouterEffort maps the level to the reasoning_effort parameter used by
// OpenAI-compatible servers: "low", "medium", "high".
func (l ThinkingLevel) OpenRouterEffort() string {
	switch l {
	case ThinkingOff, "":
		return ""
	case ThinkingMinimal, ThinkingLow:
		return "low"
	case ThinkingMedium:
		return "medium"
	case ThinkingHigh, ThinkingXHigh:
		return "high"
	default:
		return "medium"
	}
}

// BudgetTokens maps the level to a token budget (Anthropic budget_tokens,
// Gemini thinkingBudget). Returns 0 for "off".
func (l ThinkingLevel) BudgetTokens() int {
	switch l {
	case ThinkingOff, "":
		return 0
	case ThinkingMinimal:
		return MinThinkingBudget
	case ThinkingLow:
		return 4096
	case ThinkingMedium:
		return 10000
	case ThinkingHigh:
		return 25000
	case ThinkingXHigh:
		return 50000
	default:
		return 10000
	}
}

// XAIEffort maps the level to xAI's ReasoningEffort. Returns nil for "off".
func (l ThinkingLevel) XAIEffort() *xai.ReasoningEffort {
	var effort xai.ReasoningEffort
	switch l {
	case ThinkingOff, "":
		return nil
	case ThinkingMinimal, ThinkingLow:
		effort = xai.ReasoningEffortLow
	case ThinkingHigh, ThinkingXHigh:
		effort = xai.ReasoningEffortHigh
	default:
		effort = xai.ReasoningEffortMedium
	}
	return &effort
}
