package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/http/handlers"
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/geocoder89/taskhub/internal/security"
	"github.com/gin-gonic/gin"
)

// Fake implementation of the handlers.UserReader / handlers.UserWriter interfaces

type fakeUsersRepo struct {
	getByEmailOrUsernameFn func(ctx context.Context, email, username string) (user.User, error)
	getByUsernameFn        func(ctx context.Context, username string) (user.User, error)
	createFn               func(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error)
}

func (f *fakeUsersRepo) GetByEmailOrUsername(ctx context.Context, email, username string) (user.User, error) {
	if f.getByEmailOrUsernameFn != nil {
		return f.getByEmailOrUsernameFn(ctx, email, username)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) GetByUsername(ctx context.Context, username string) (user.User, error) {
	if f.getByUsernameFn != nil {
		return f.getByUsernameFn(ctx, username)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) Create(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, email, username, fullName, passwordHash)
	}

	return user.User{}, nil
}

func newJWTManager() *auth.Manager {
	return auth.NewManager("test-secret", 30*time.Minute, 7*24*time.Hour)
}

func TestRegisterHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"email": "ada@example.com", "username": "ada", "password": "s3cretpass", "full_name": "Ada L"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error) {
					return user.User{
						ID:           1,
						Email:        email,
						Username:     username,
						FullName:     fullName,
						PasswordHash: passwordHash,
						IsActive:     true,
						CreatedAt:    time.Now().UTC(),
					}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "duplicate",
			body: `{"email": "ada@example.com", "username": "ada", "password": "s3cretpass"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByEmailOrUsernameFn = func(ctx context.Context, email, username string) (user.User, error) {
					return user.User{ID: 1, Email: email, Username: username}, nil
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "duplicate_lost_race",
			body: `{"email": "ada@example.com", "username": "ada", "password": "s3cretpass"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, email, username string, fullName *string, passwordHash string) (user.User, error) {
					return user.User{}, user.ErrEmailOrUsernameTaken
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "bad_email",
			body:           `{"email": "not-an-email", "username": "ada", "password": "s3cretpass"}`,
			repoSetUp:      func(f *fakeUsersRepo) {},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name:           "short_password",
			body:           `{"email": "ada@example.com", "username": "ada", "password": "short"}`,
			repoSetUp:      func(f *fakeUsersRepo) {},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewAuthHandler(repo, repo, newJWTManager())

			r := gin.New()
			r.POST("/register", h.Register)

			req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if w.Code == http.StatusCreated {
				if strings.Contains(w.Body.String(), "hashed_password") || strings.Contains(w.Body.String(), "$2a$") {
					t.Fatalf("password hash leaked in response: %s", w.Body.String())
				}
			}
		})
	}
}

func TestTokenHandler(t *testing.T) {
	hash, err := security.HashPassword("s3cretpass")

	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	stored := user.User{ID: 7, Email: "ada@example.com", Username: "ada", PasswordHash: hash, IsActive: true}

	tests := []struct {
		name           string
		form           url.Values
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			form: url.Values{"username": {"ada"}, "password": {"s3cretpass"}},
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByUsernameFn = func(ctx context.Context, username string) (user.User, error) {
					return stored, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "wrong_password",
			form: url.Values{"username": {"ada"}, "password": {"wrong"}},
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByUsernameFn = func(ctx context.Context, username string) (user.User, error) {
					return stored, nil
				}
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "unknown_user",
			form:           url.Values{"username": {"nobody"}, "password": {"s3cretpass"}},
			repoSetUp:      func(f *fakeUsersRepo) {},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "missing_fields",
			form:           url.Values{"username": {"ada"}},
			repoSetUp:      func(f *fakeUsersRepo) {},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			// a store failure is not a credentials problem
			name: "store_unavailable",
			form: url.Values{"username": {"ada"}, "password": {"s3cretpass"}},
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByUsernameFn = func(ctx context.Context, username string) (user.User, error) {
					return user.User{}, errors.New("pgx: connection refused")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			tt.repoSetUp(repo)

			jwtManager := newJWTManager()
			h := handlers.NewAuthHandler(repo, repo, jwtManager)

			r := gin.New()
			r.POST("/token", h.Token)

			req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if w.Code == http.StatusUnauthorized {
				if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
					t.Fatalf("WWW-Authenticate = %q, want Bearer", got)
				}
			}

			if w.Code == http.StatusOK {
				var payload struct {
					AccessToken  string `json:"access_token"`
					RefreshToken string `json:"refresh_token"`
					TokenType    string `json:"token_type"`
				}

				if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
					t.Fatalf("bad token payload: %v", err)
				}

				if payload.TokenType != "bearer" {
					t.Fatalf("token_type = %q, want bearer", payload.TokenType)
				}

				// both tokens must validate back to the same subject
				for _, raw := range []string{payload.AccessToken, payload.RefreshToken} {
					userID, err := jwtManager.Validate(raw)

					if err != nil {
						t.Fatalf("issued token does not validate: %v", err)
					}

					if userID != stored.ID {
						t.Fatalf("token subject = %d, want %d", userID, stored.ID)
					}
				}
			}
		})
	}
}

func TestMeHandler(t *testing.T) {
	stored := user.User{ID: 7, Email: "ada@example.com", Username: "ada", IsActive: true}

	mw := middlewares.NewAuthMiddleware(
		&fakeValidator{userID: 7},
		&fakeUserResolver{user: stored},
	)

	h := handlers.NewAuthHandler(&fakeUsersRepo{}, &fakeUsersRepo{}, newJWTManager())

	r := gin.New()
	r.GET("/users/me", mw.RequireAuth(), h.Me)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer test-token")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var got user.User

	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad user payload: %v", err)
	}

	if got.ID != stored.ID || got.Username != stored.Username {
		t.Fatalf("unexpected user: %+v", got)
	}
}
