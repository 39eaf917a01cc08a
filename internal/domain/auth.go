package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims — полезная нагрузка RS256 токена консоли.
// Role определяет, может ли оператор принимать решения по approvals.
type OperatorClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // "viewer" | "approver"
	jwt.RegisteredClaims
}

const (
	RoleViewer   = "viewer"
	RoleApprover = "approver"
)

// Operator — учетка оператора консоли (источник правды — Postgres)
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
