package middlewares

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep these interfaces small so tests can fake them easily.
type TokenValidator interface {
	Validate(token string) (int64, error)
}

type UserResolver interface {
	GetByID(ctx context.Context, id int64) (user.User, error)
}

type AuthMiddleware struct {
	jwt   TokenValidator
	users UserResolver
}

func NewAuthMiddleware(jwt TokenValidator, users UserResolver) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, users: users}
}

const (
	ctxUserIDKey = "auth.userID"
	ctxUserKey   = "auth.user"
)

// RequireAuth validates the bearer token and resolves its subject into a full
// user record, so a token whose user has since been deleted is rejected.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Missing or invalid Authorization header")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if raw == "" {
			abortUnauthorized(c, "Missing or invalid access token")
			return
		}

		userID, err := m.jwt.Validate(raw)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired access token")
			return
		}

		cctx, cancel := config.WithTimeout(2 * time.Second)
		defer cancel()

		u, err := m.users.GetByID(cctx, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				abortUnauthorized(c, "Could not validate credentials")
				return
			}
			abortInternal(c, "Could not resolve user")
			return
		}

		// Stash the resolved identity on the context
		c.Set(ctxUserIDKey, u.ID)
		c.Set(ctxUserKey, u)

		c.Next()
	}
}

func abortInternal(c *gin.Context, message string) {
	c.AbortWithStatusJSON(500, gin.H{
		"error": gin.H{
			"code":    "internal_error",
			"message": message,
		},
	})
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(401, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}

// Optional helpers so handlers don't need to know the magic keys.

func UserIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func UserFromContext(c *gin.Context) (user.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return user.User{}, false
	}
	u, ok := v.(user.User)
	return u, ok
}
