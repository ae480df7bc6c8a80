// Package types contains shared types used across multiple packages.
// This helps avoid import cycles between packages like llm and conversation.
package types

// Role identifies who authored a turn. Backends that use other vocabularies
// ("assistant") translate inside their adapter.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single message in a conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn is shorthand for a user-authored Turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// ModelTurn is shorthand for a model-authored Turn.
func ModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Text: text}
}

// AssistantRole returns the role name used by OpenAI-style and Anthropic wire
// formats.
func (r Role) AssistantRole() string {
	if r == RoleModel {
		return "assistant"
	}
	return string(r)
}
