package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/docser/docser/internal/auth"
	"github.com/docser/docser/internal/store"
	"github.com/docser/docser/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// ConversationsHandler serves conversation history endpoints. Every query is
// scoped to the authenticated caller; other users' threads read as missing.
type ConversationsHandler struct {
	Store  *store.Store
	Logger *zap.Logger
}

func (h *ConversationsHandler) Register(g *echo.Group) {
	g.GET("/conversations", h.list)
	g.GET("/conversations/:id", h.get)
	g.PATCH("/conversations/:id/title", h.updateTitle)
}

func (h *ConversationsHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apiError(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid Authorization header. Bearer token required.")
	}

	status := c.QueryParam("status")
	if status == "" {
		status = store.StatusActive
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid limit parameter.")
		}
		limit = v
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if limit < 0 {
		limit = 0
	}

	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid offset parameter.")
		}
		offset = v
	}
	if offset < 0 {
		offset = 0
	}

	summaries, err := h.Store.ListConversations(ctx, principal.UserID, status, limit, offset)
	if err != nil {
		h.Logger.Error("failed to list conversations", zap.Error(err), zap.String("user_id", principal.UserID))
		return apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, "Unable to retrieve conversations.")
	}

	out := make([]ConversationSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ConversationSummary{
			ID:           s.ID,
			Title:        s.Title,
			LastActiveAt: s.LastActiveAt,
			Status:       s.Status,
			Preview:      s.Preview,
		})
	}
	return c.JSON(http.StatusOK, ConversationListResponse{
		Conversations: out,
		Total:         len(out),
		Limit:         limit,
		Offset:        offset,
	})
}

func (h *ConversationsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apiError(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid Authorization header. Bearer token required.")
	}

	conv, found, err := h.Store.GetConversation(ctx, c.Param("id"), principal.UserID)
	if err != nil {
		h.Logger.Error("failed to load conversation", zap.Error(err), zap.String("user_id", principal.UserID))
		return apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, "Unable to retrieve conversation.")
	}
	if !found {
		return apiError(http.StatusNotFound, models.ErrCodeNotFound, "Conversation not found.")
	}

	msgs := make([]MessageItem, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, MessageItem{
			ID:               m.ID,
			Role:             m.Role,
			Content:          m.Content,
			SourceReferences: sourceRefsOrEmpty(m.SourceReferences),
			Timestamp:        m.Timestamp,
		})
	}
	return c.JSON(http.StatusOK, ConversationDetail{
		ID:           conv.ID,
		UserID:       conv.UserID,
		Title:        conv.Title,
		Messages:     msgs,
		Status:       conv.Status,
		CreatedAt:    conv.CreatedAt,
		LastActiveAt: conv.LastActiveAt,
	})
}

func (h *ConversationsHandler) updateTitle(c echo.Context) error {
	ctx := c.Request().Context()
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apiError(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid Authorization header. Bearer token required.")
	}

	var body UpdateTitleRequest
	if err := c.Bind(&body); err != nil {
		return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request body.")
	}
	if strings.TrimSpace(body.Title) == "" {
		return apiError(http.StatusBadRequest, models.ErrCodeInvalidRequest, "Title cannot be empty.")
	}

	if err := h.Store.UpdateTitle(ctx, c.Param("id"), principal.UserID, body.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apiError(http.StatusNotFound, models.ErrCodeNotFound, "Conversation not found.")
		}
		h.Logger.Error("failed to update conversation title", zap.Error(err), zap.String("user_id", principal.UserID))
		return apiError(http.StatusServiceUnavailable, models.ErrCodeServiceUnavailable, "Unable to update conversation.")
	}
	return c.NoContent(http.StatusNoContent)
}
