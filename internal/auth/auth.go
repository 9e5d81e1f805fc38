// Package auth validates caller identity on every request and exchanges the
// caller's token for delegated downstream tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

type principalKey struct{}
type rawTokenKey struct{}

// Middleware builds an Echo middleware that validates bearer tokens and
// stores the resolved principal plus the raw token on the request context.
// Signatures are verified with the shared HS256 secret; audience is enforced
// only when configured, and an issuer mismatch is logged but not rejected.
func Middleware(secret []byte, cfg config.AuthConfig, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return unauthorized(models.ErrCodeUnauthorized,
					"Missing or invalid Authorization header. Bearer token required.")
			}
			tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if tok == "" {
				return unauthorized(models.ErrCodeUnauthorized, "Empty bearer token.")
			}

			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil }, opts...)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return unauthorized(models.ErrCodeTokenExpired,
						"Token expired: token has passed its expiration time")
				}
				if errors.Is(err, jwt.ErrTokenInvalidAudience) {
					return unauthorized(models.ErrCodeUnauthorized, "Invalid audience (aud).")
				}
				logger.Debug("token validation failed", zap.Error(err))
				return unauthorized(models.ErrCodeUnauthorized, "Invalid token.")
			}
			claims, ok := parsed.Claims.(jwt.MapClaims)
			if !ok || !parsed.Valid {
				return unauthorized(models.ErrCodeUnauthorized, "Invalid token.")
			}

			if cfg.Issuer != "" {
				if iss, _ := claims.GetIssuer(); iss != cfg.Issuer {
					logger.Warn("token issuer mismatch",
						zap.String("expected", cfg.Issuer),
						zap.String("got", iss))
				}
			}

			principal := PrincipalFromClaims(claims)
			if principal.UserID == "" {
				return unauthorized(models.ErrCodeUnauthorized, "Token does not identify a user.")
			}

			c.Set("user_id", principal.UserID)
			c.Set("principal", principal)
			reqCtx := WithPrincipal(c.Request().Context(), principal)
			reqCtx = WithRawToken(reqCtx, tok)
			c.SetRequest(c.Request().WithContext(reqCtx))
			return next(c)
		}
	}
}

func unauthorized(code, message string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, models.ErrorResponse{Error: code, Message: message})
}

// PrincipalFromClaims maps identity token claims onto a Principal. The
// object id wins over the generic subject; groups carry the ACL scope.
func PrincipalFromClaims(claims jwt.MapClaims) models.Principal {
	p := models.Principal{DisplayName: "Unknown"}
	if oid, ok := claims["oid"].(string); ok && oid != "" {
		p.UserID = oid
	} else if sub, ok := claims["sub"].(string); ok {
		p.UserID = sub
	}
	p.GroupIDs = stringsFromClaim(claims["groups"])
	if name, ok := claims["name"].(string); ok && name != "" {
		p.DisplayName = name
	}
	if email, ok := claims["preferred_username"].(string); ok {
		p.Email = email
	}
	if tid, ok := claims["tid"].(string); ok {
		p.TenantID = tid
	}
	return p
}

func stringsFromClaim(raw interface{}) []string {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// WithPrincipal stores an authenticated principal on the context.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// WithRawToken stores the caller's bearer token on the context.
func WithRawToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, rawTokenKey{}, token)
}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	if ctx == nil {
		return models.Principal{}, false
	}
	if p, ok := ctx.Value(principalKey{}).(models.Principal); ok {
		return p, true
	}
	return models.Principal{}, false
}

// RawTokenFromContext returns the caller's own bearer token so it can be
// exchanged for delegated downstream tokens.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if t, ok := ctx.Value(rawTokenKey{}).(string); ok && t != "" {
		return t, true
	}
	return "", false
}

// SignToken issues a development token carrying the claims the middleware
// reads. Production tokens come from the identity provider instead.
func SignToken(userID string, groups []string, displayName string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"oid": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	if displayName != "" {
		claims["name"] = displayName
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
