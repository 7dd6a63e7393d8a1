package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
)

// Identity is the caller of a request. An empty Role means the profile
// could not be resolved and must be treated as unknown, not as anonymous.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Bypass bool   `json:"bypass"`
}

func (id *Identity) IsAdmin() bool {
	return id != nil && id.Role == RoleAdmin
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

func UserIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}

// TokenVerifier parses bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// BypassFunc reports the identity of an active bypass session, if any.
type BypassFunc func(ctx context.Context) (*Identity, bool)

type MiddlewareConfig struct {
	Tokens  TokenVerifier
	Bypass  BypassFunc
	Skipper func(echo.Context) bool
}

// Middleware authenticates requests with a bearer token. Without a token it
// falls back to an active bypass session.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = AuthSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			var id *Identity
			if header := c.Request().Header.Get("Authorization"); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
				}
				claims, err := cfg.Tokens.Verify(strings.TrimSpace(parts[1]))
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				id = &Identity{UserID: claims.Subject, Email: claims.Email}
			} else if cfg.Bypass != nil {
				if bid, ok := cfg.Bypass(c.Request().Context()); ok {
					id = bid
				}
			}
			if id == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			c.Set("user_id", id.UserID)
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// RoleLookup returns the role recorded on a user's profile.
type RoleLookup func(ctx context.Context, userID string) (string, error)

// ResolveRole fills Identity.Role from the profile when the token did not
// carry one. Lookup failures leave the role empty.
func ResolveRole(lookup RoleLookup, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFromContext(c.Request().Context())
			if id != nil && id.Role == "" && lookup != nil {
				role, err := lookup(c.Request().Context(), id.UserID)
				if err != nil {
					logger.Warn().Err(err).Str("user_id", id.UserID).Msg("profile lookup failed, role unknown")
				}
				id.Role = role
			}
			return next(c)
		}
	}
}
