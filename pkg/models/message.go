package models

import "time"

// MessageRole is the speaker/kind of one chat turn.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleToolCall   MessageRole = "tool_call"
	RoleToolOutput MessageRole = "tool_output"
)

// Message is one chat turn belonging to a Session.
type Message struct {
	MessageID string      `json:"message_id" db:"message_id"`
	SessionID string      `json:"session_id" db:"session_id"`
	Role      MessageRole `json:"role" db:"role"`
	Content   string      `json:"content" db:"content"`
	Name      string      `json:"name,omitempty" db:"name"`
	CallID    string      `json:"call_id,omitempty" db:"call_id"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}

// AddMessageRequest contains fields for appending a message to a session.
type AddMessageRequest struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Name    string      `json:"name,omitempty"`
	CallID  string      `json:"call_id,omitempty"`
}
