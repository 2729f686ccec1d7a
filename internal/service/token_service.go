package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/domain"
)

// TokenService handles JWT access/refresh token generation and validation
type TokenService struct {
	jwtConfig        config.JWTConfig
	refreshTokenRepo domain.RefreshTokenRepository
	userRepo         domain.UserRepository
}

// NewTokenService creates a new token service
func NewTokenService(
	jwtConfig config.JWTConfig,
	refreshTokenRepo domain.RefreshTokenRepository,
	userRepo domain.UserRepository,
) *TokenService {
	return &TokenService{
		jwtConfig:        jwtConfig,
		refreshTokenRepo: refreshTokenRepo,
		userRepo:         userRepo,
	}
}

// TokenPair contains both access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // Seconds until access token expires
}

// GenerateTokenPair creates both access and refresh tokens for a user
func (s *TokenService) GenerateTokenPair(ctx context.Context, user *domain.User, userAgent, ipAddress string) (*TokenPair, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	// Refresh token is a random string, only its hash is stored
	refreshToken, err := s.generateAndStoreRefreshToken(ctx, user.ID, userAgent, ipAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtConfig.AccessTokenExpiry.Seconds()),
	}, nil
}

// RefreshAccessToken validates a refresh token and returns a new token pair
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken, userAgent, ipAddress string) (*TokenPair, error) {
	tokenHash := hashToken(refreshToken)

	storedToken, err := s.refreshTokenRepo.FindByHash(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if storedToken == nil {
		return nil, fmt.Errorf("invalid refresh token")
	}

	if !storedToken.IsValid() {
		return nil, fmt.Errorf("refresh token expired or revoked")
	}

	user, err := s.userRepo.GetByID(ctx, storedToken.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// Rotate: old refresh token is revoked before issuing a new pair
	if err := s.refreshTokenRepo.RevokeByHash(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("failed to revoke old token: %w", err)
	}

	return s.GenerateTokenPair(ctx, user, userAgent, ipAddress)
}

// RevokeRefreshToken invalidates a specific refresh token (logout)
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	tokenHash := hashToken(refreshToken)
	return s.refreshTokenRepo.RevokeByHash(ctx, tokenHash)
}

// RevokeAllUserTokens invalidates all refresh tokens for a user (force logout)
func (s *TokenService) RevokeAllUserTokens(ctx context.Context, userID string) error {
	return s.refreshTokenRepo.RevokeAllByUserID(ctx, userID)
}

// VerifyAccessToken parses and validates an access token string
func (s *TokenService) VerifyAccessToken(tokenString string) (*domain.AccessClaims, error) {
	claims := &domain.AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtConfig.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// generateAccessToken creates a short-lived JWT access token
func (s *TokenService) generateAccessToken(user *domain.User) (string, error) {
	claims := domain.AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtConfig.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtConfig.Secret))
}

// generateAndStoreRefreshToken creates a random refresh token and stores its hash
func (s *TokenService) generateAndStoreRefreshToken(ctx context.Context, userID, userAgent, ipAddress string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	rawToken := hex.EncodeToString(tokenBytes)

	tokenHash := hashToken(rawToken)
	refreshToken := &domain.RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(s.jwtConfig.RefreshTokenExpiry),
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}

	if err := s.refreshTokenRepo.Create(ctx, refreshToken); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

// hashToken creates a SHA256 hash of the token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
