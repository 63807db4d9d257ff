package models

import "time"

// SessionStatus is the lifecycle of a chat session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusClosed SessionStatus = "closed"
)

// Session is an interactive chat session — a sibling surface to Task,
// independently managed and persisted across process restarts.
type Session struct {
	SessionID string        `json:"session_id" db:"session_id"`
	Title     string        `json:"title" db:"title"`
	Model     string        `json:"model" db:"model"`
	Status    SessionStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`

	Messages []Message `json:"messages,omitempty" db:"-"`
	Todos    []Todo    `json:"todos,omitempty" db:"-"`
}

// CreateSessionRequest contains fields for creating a new chat session.
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SessionListResponse contains a paginated session list.
type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}
