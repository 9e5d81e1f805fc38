// Package audit writes the compliance trail: one structured record per
// processed question, emitted through the JSON log sink.
package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// summaryLimit caps the response excerpt kept in the trail.
const summaryLimit = 500

// Entry captures one user interaction for compliance review.
type Entry struct {
	ID                string
	UserID            string
	ConversationID    string
	Query             string
	DocumentsAccessed []string
	ResponseSummary   string
	Timestamp         time.Time
	LatencyMS         int64
	WasRefused        bool
}

// Recorder emits audit entries. It never fails the request it records.
type Recorder struct {
	logger *zap.Logger
}

func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record fills in entry identity where missing and writes the entry to the
// audit log. The response summary is clipped before emission.
func (r *Recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.logger.Info("audit_entry",
		zap.String("audit_id", entry.ID),
		zap.String("user_id", entry.UserID),
		zap.String("conversation_id", entry.ConversationID),
		zap.String("query", entry.Query),
		zap.Strings("documents_accessed", entry.DocumentsAccessed),
		zap.String("response_summary", truncateRunes(entry.ResponseSummary, summaryLimit)),
		zap.Time("timestamp", entry.Timestamp),
		zap.Int64("latency_ms", entry.LatencyMS),
		zap.Bool("was_refused", entry.WasRefused),
	)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
