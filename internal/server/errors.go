package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/docser/docser/models"
)

// serviceUnavailableMessage is the one unexpected-failure message clients
// ever see; details stay in the logs.
const serviceUnavailableMessage = "The service is temporarily unavailable. Please try again later."

// apiError builds an echo error carrying the canonical envelope.
func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, models.ErrorResponse{Error: code, Message: message})
}

// newHTTPErrorHandler renders every error as the flat ErrorResponse envelope
// with a machine-readable code and logs the failed request.
func newHTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		body := models.ErrorResponse{
			Error:   models.ErrCodeServiceUnavailable,
			Message: serviceUnavailableMessage,
		}

		expected := false
		var he *echo.HTTPError
		if errors.As(err, &he) {
			expected = true
			code = he.Code
			switch msg := he.Message.(type) {
			case models.ErrorResponse:
				body = msg
			case string:
				body = models.ErrorResponse{Error: codeForStatus(code), Message: msg}
			default:
				body = models.ErrorResponse{Error: codeForStatus(code), Message: http.StatusText(code)}
			}
		}

		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		}
		// Envelope errors are normal outcomes (rejections, validation); only
		// errors nothing in the handler chain anticipated escalate.
		if expected {
			logger.Debug("request failed", fields...)
		} else {
			logger.Error("unhandled request error", fields...)
		}

		if !c.Response().Committed {
			if err := c.JSON(code, body); err != nil {
				logger.Error("error response write failed", zap.Error(err))
			}
		}
	}
}

// codeForStatus maps an HTTP status to the closest machine code for errors
// raised outside the handlers (routing, middleware, panics).
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return models.ErrCodeInvalidRequest
	case http.StatusUnauthorized:
		return models.ErrCodeUnauthorized
	case http.StatusNotFound:
		return models.ErrCodeNotFound
	case http.StatusTooManyRequests:
		return models.ErrCodeRateLimitExceeded
	default:
		return models.ErrCodeServiceUnavailable
	}
}
