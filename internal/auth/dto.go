package auth

import (
	"time"

	"github.com/angelmondragon/storefront-backend/internal/users"
)

// LoginRequest captures the user credentials sent to the login endpoint. It
// carries no validation tags: the verification claim is checked before the
// credentials, and malformed credentials fail as invalid credentials.
type LoginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	VerificationToken string `json:"verification_token"`
}

// RegisterRequest contains the payload required to open a customer account.
type RegisterRequest struct {
	FirstName         string `json:"first_name" validate:"required,max=100"`
	LastName          string `json:"last_name" validate:"required,max=100"`
	Email             string `json:"email" validate:"required,email,max=254"`
	Password          string `json:"password" validate:"required,min=8,max=128"`
	VerificationToken string `json:"verification_token"`
}

// LoginResponse contains the access token and user produced by a successful login.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresAt   time.Time      `json:"expires_at"`
	User        *users.UserDTO `json:"user"`
}
