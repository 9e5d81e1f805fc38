package server

import (
	"time"

	"github.com/docser/docser/models"
)

// Wire types for the public API. Slice fields are always rendered as JSON
// arrays, never null.

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type AgentMessage struct {
	ID               string                   `json:"id"`
	Role             string                   `json:"role"`
	Content          string                   `json:"content"`
	SourceReferences []models.SourceReference `json:"source_references"`
	Timestamp        time.Time                `json:"timestamp"`
}

type ChatResponse struct {
	ConversationID string       `json:"conversation_id"`
	Message        AgentMessage `json:"message"`
}

type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastActiveAt time.Time `json:"last_active_at"`
	Status       string    `json:"status"`
	Preview      string    `json:"preview"`
}

type ConversationListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}

type MessageItem struct {
	ID               string                   `json:"id"`
	Role             string                   `json:"role"`
	Content          string                   `json:"content"`
	SourceReferences []models.SourceReference `json:"source_references"`
	Timestamp        time.Time                `json:"timestamp"`
}

type ConversationDetail struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	Messages     []MessageItem `json:"messages"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
}

type UpdateTitleRequest struct {
	Title string `json:"title"`
}

func sourceRefsOrEmpty(refs []models.SourceReference) []models.SourceReference {
	if refs == nil {
		return []models.SourceReference{}
	}
	return refs
}
