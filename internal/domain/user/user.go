package user

import (
	"errors"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     *string   `json:"full_name"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrNotFound             = errors.New("user not found")
	ErrEmailOrUsernameTaken = errors.New("email or username already registered")
)

type RegisterRequest struct {
	Email    string  `json:"email" binding:"required,email"`
	Username string  `json:"username" binding:"required,min=3,max=100"`
	Password string  `json:"password" binding:"required,min=8"`
	FullName *string `json:"full_name" binding:"omitempty,max=255"`
}
