package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	titleFallbackLimit = 50
	defaultTitle       = "New conversation"
)

// Title names a new conversation from its opening exchange. Generation
// failures fall back to a clipped copy of the user's message so the chat
// flow never fails because naming did.
func (a *Agent) Title(ctx context.Context, userMessage, assistantMessage string) string {
	title, err := a.llm.GenerateTitle(ctx, userMessage, assistantMessage)
	if err == nil && title != "" {
		return title
	}
	if err != nil {
		a.logger.Warn("title generation failed, using fallback", zap.Error(err))
	}
	if fallback := strings.TrimSpace(truncateRunes(userMessage, titleFallbackLimit)); fallback != "" {
		return fallback
	}
	return defaultTitle
}
