package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/docser/docser/internal/agent"
	"github.com/docser/docser/internal/audit"
	"github.com/docser/docser/internal/auth"
	"github.com/docser/docser/internal/ratelimit"
	"github.com/docser/docser/internal/store"
	"github.com/docser/docser/internal/telemetry"
	"github.com/docser/docser/models"
)

// slowResponseThreshold is the latency target; slower answers log a warning.
const slowResponseThreshold = 5 * time.Second

// Answerer produces grounded answers and conversation titles.
type Answerer interface {
	Answer(ctx context.Context, question string, principal models.Principal, history []models.Message) (agent.Answer, error)
	Title(ctx context.Context, userMessage, assistantMessage string) string
}

// ChatHandler serves the question answering flow.
type ChatHandler struct {
	Store    *store.Store
	Agent    Answerer
	Limiter  *ratelimit.Limiter
	Audit    *audit.Recorder
	Metrics  *telemetry.Metrics
	MaxInput int
	Logger   *zap.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.sendMessage)
}

// sendMessage runs the full flow in a fixed order: admission, validation,
// conversation resolution, retrieval and answering, persistence, audit.
// Admission runs before any expensive work so rejected requests cost nothing.
func (h *ChatHandler) sendMessage(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apiError(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid Authorization header. Bearer token required.")
	}

	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request body.")
	}

	res := h.Limiter.Allow(principal.UserID)
	h.Metrics.RecordAdmission(res.Allowed)
	if !res.Allowed {
		seconds := int(math.Ceil(res.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		return apiError(http.StatusTooManyRequests, models.ErrCodeRateLimitExceeded,
			fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", seconds))
	}

	if utf8.RuneCountInString(body.Message) > h.MaxInput {
		return apiError(http.StatusBadRequest, models.ErrCodeInputTooLong,
			fmt.Sprintf("Message exceeds maximum length of %d characters.", h.MaxInput))
	}
	if strings.TrimSpace(body.Message) == "" {
		return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Message cannot be empty.")
	}

	conv, newConversation, err := h.resolveConversation(ctx, body.ConversationID, principal.UserID)
	if err != nil {
		return err
	}

	result, err := h.Agent.Answer(ctx, body.Message, principal, conv.Messages)
	if err != nil {
		h.Logger.Error("chat request failed", zap.Error(err), zap.String("user_id", principal.UserID))
		return apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, serviceUnavailableMessage)
	}

	now := time.Now().UTC()
	agentMsg := models.Message{
		ID:               uuid.NewString(),
		Role:             models.RoleAssistant,
		Content:          result.Content,
		SourceReferences: result.Sources,
		Timestamp:        now,
	}
	userMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   body.Message,
		Timestamp: now,
	}
	if err := h.Store.AppendMessages(ctx, conv.ID, principal.UserID, []models.Message{userMsg, agentMsg}); err != nil {
		h.Logger.Error("failed to persist conversation turn", zap.Error(err), zap.String("conversation_id", conv.ID))
		return apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, serviceUnavailableMessage)
	}

	if newConversation {
		title := h.Agent.Title(ctx, body.Message, result.Content)
		if err := h.Store.UpdateTitle(ctx, conv.ID, principal.UserID, title); err != nil {
			h.Logger.Warn("failed to store conversation title", zap.Error(err), zap.String("conversation_id", conv.ID))
		}
	}

	latencyMS := time.Since(start).Milliseconds()
	urls := make([]string, 0, len(result.Sources))
	for _, sr := range result.Sources {
		urls = append(urls, sr.DocumentURL)
	}
	h.Audit.Record(audit.Entry{
		UserID:            principal.UserID,
		ConversationID:    conv.ID,
		Query:             body.Message,
		DocumentsAccessed: urls,
		ResponseSummary:   result.Content,
		LatencyMS:         latencyMS,
		WasRefused:        result.Refused,
	})
	h.Metrics.RecordQuestion(!result.Refused)
	h.Metrics.ObserveChatLatency(time.Since(start).Seconds())

	if latencyMS > slowResponseThreshold.Milliseconds() {
		h.Logger.Warn("Response exceeded 5s target",
			zap.Int64("latency_ms", latencyMS),
			zap.String("user_id", principal.UserID),
			zap.String("conversation_id", conv.ID))
	} else {
		h.Logger.Info("Chat response completed",
			zap.Int64("latency_ms", latencyMS),
			zap.String("user_id", principal.UserID),
			zap.String("conversation_id", conv.ID))
	}

	return c.JSON(http.StatusOK, ChatResponse{
		ConversationID: conv.ID,
		Message: AgentMessage{
			ID:               agentMsg.ID,
			Role:             agentMsg.Role,
			Content:          agentMsg.Content,
			SourceReferences: sourceRefsOrEmpty(agentMsg.SourceReferences),
			Timestamp:        agentMsg.Timestamp,
		},
	})
}

// resolveConversation loads the caller's existing thread or starts a fresh
// one. A conversation id belonging to someone else reads as not found.
func (h *ChatHandler) resolveConversation(ctx context.Context, conversationID, userID string) (store.Conversation, bool, error) {
	if conversationID != "" {
		conv, found, err := h.Store.GetConversation(ctx, conversationID, userID)
		if err != nil {
			h.Logger.Error("failed to load conversation", zap.Error(err), zap.String("conversation_id", conversationID))
			return store.Conversation{}, false, apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, serviceUnavailableMessage)
		}
		if !found {
			return store.Conversation{}, false, apiError(http.StatusNotFound, models.ErrCodeNotFound, "Conversation not found.")
		}
		return conv, false, nil
	}

	conv, err := h.Store.CreateConversation(ctx, userID, "")
	if err != nil {
		h.Logger.Error("failed to create conversation", zap.Error(err))
		return store.Conversation{}, false, apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, serviceUnavailableMessage)
	}
	return conv, true, nil
}
