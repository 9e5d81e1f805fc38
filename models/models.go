package models

import "time"

// Principal is the authenticated identity a request acts as. It arrives
// pre-validated from the auth layer; downstream components trust it.
type Principal struct {
	UserID      string
	GroupIDs    []string
	DisplayName string
	Email       string
	TenantID    string
}

// DocumentChunk is the canonical retrieval record. Every search backend maps
// its raw payload into this shape before returning.
type DocumentChunk struct {
	ChunkID        string    `json:"chunk_id"`
	DocumentTitle  string    `json:"document_title"`
	Content        string    `json:"content"`
	SourceURL      string    `json:"source_url"`
	FileType       string    `json:"file_type"`
	LastModified   time.Time `json:"last_modified"`
	RelevanceScore float64   `json:"relevance_score"`
}

// SourceReference is a citation linking an answer to a source document.
type SourceReference struct {
	DocumentTitle  string  `json:"document_title"`
	DocumentURL    string  `json:"document_url"`
	Excerpt        string  `json:"excerpt,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Message is a single turn within a conversation.
type Message struct {
	ID               string            `json:"id"`
	Role             string            `json:"role"`
	Content          string            `json:"content"`
	SourceReferences []SourceReference `json:"source_references,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Machine-readable error codes carried in ErrorResponse.Error.
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeInputTooLong       = "input_too_long"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrCodeNotFound           = "not_found"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// ErrorResponse is the JSON error envelope returned by every API endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
