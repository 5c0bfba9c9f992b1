// internal/auth/domain.go
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminCollection holds librarian accounts keyed by lower-cased email.
const AdminCollection = "BiblioAdmin"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrAdminExists        = errors.New("admin already exists")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Admin represents a librarian allowed into the panel.
type Admin struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credential is the stored password material for an admin.
type Credential struct {
	PasswordHash string
	Salt         string
}

// Claims are carried in issued tokens.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Admin     Admin     `json:"admin"`
}
