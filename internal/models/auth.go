package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientInfo identifies the caller behind a request for sessions and audit rows.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`

	ClientInfo `json:"-"`
}

// RefreshTokenRequest trades a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`

	ClientInfo `json:"-"`
}

// TokenPair is one access token plus the refresh token that replaces it.
// ExpiresIn is the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LoginResponse is a token pair together with the signed-in user.
type LoginResponse struct {
	TokenPair
	User UserInfo `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Identifier string   `json:"identifier"`
	Role       UserRole `json:"role"`
}

// VerifyResponse is what clients use for role gating.
type VerifyResponse struct {
	Role       UserRole `json:"role"`
	Identifier string   `json:"identifier"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Identifier string   `json:"identifier"`
	jwt.RegisteredClaims
}
