package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims represents custom JWT claims for Kelasku auth
type AccessClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}
