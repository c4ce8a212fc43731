package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/geocoder89/taskhub/internal/security"
	"github.com/gin-gonic/gin"
)

type UserReader interface {
	GetByEmailOrUsername(ctx context.Context, email, username string) (user.User, error)
	GetByUsername(ctx context.Context, username string) (user.User, error)
}

type UserWriter interface {
	Create(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error)
}

type AuthHandler struct {
	users      UserReader
	userWriter UserWriter
	jwt        *auth.Manager
}

func NewAuthHandler(users UserReader, userWriter UserWriter, jwtManager *auth.Manager) *AuthHandler {
	return &AuthHandler{
		users:      users,
		userWriter: userWriter,
		jwt:        jwtManager,
	}
}

// the token endpoint takes form fields, not JSON
type TokenRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	// explicit duplicate check first; the unique constraint still backstops races
	_, err := h.users.GetByEmailOrUsername(cctx, req.Email, req.Username)

	if err == nil {
		RespondBadRequest(ctx, "already_registered", "Email or username already registered")
		return
	}

	if !errors.Is(err, user.ErrNotFound) {
		RespondInternal(ctx, "Could not create user")
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.userWriter.Create(cctx, req.Email, req.Username, req.FullName, hash)

	if err != nil {
		if errors.Is(err, user.ErrEmailOrUsernameTaken) {
			RespondBadRequest(ctx, "already_registered", "Email or username already registered")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

func (h *AuthHandler) Token(ctx *gin.Context) {
	var req TokenRequest

	if err := ctx.ShouldBind(&req); err != nil {
		RespondUnprocessable(ctx, "Invalid login form", gin.H{"reason": err.Error()})
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByUsername(cctx, req.Username)
	if err != nil {
		// only a missing user is a credentials problem; anything else is the store failing
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_credentials", "Incorrect username or password")
			return
		}

		RespondInternal(ctx, "Could not authenticate user")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Incorrect username or password")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(foundUser.ID)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	refreshToken, err := h.jwt.GenerateRefreshToken(foundUser.ID)

	if err != nil {
		RespondInternal(ctx, "Could not generate refresh token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "bearer",
	})
}

// Me returns the record the auth middleware already resolved.
func (h *AuthHandler) Me(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	ctx.JSON(http.StatusOK, u)
}
