package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kelasku/kelasku/internal/domain"
)

// AuthService handles registration and password login
type AuthService struct {
	userRepo domain.UserRepository
	tokens   *TokenService
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo domain.UserRepository, tokens *TokenService) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		tokens:   tokens,
	}
}

// RegisterRequest contains the signup params
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// AuthResponse contains the user and their token pair
type AuthResponse struct {
	User   *domain.User `json:"user"`
	Tokens *TokenPair   `json:"tokens"`
}

// Register creates a student account and returns a token pair.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, userAgent, ipAddress string) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(req.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email
	}

	user := &domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Phone:        strings.TrimSpace(req.Phone),
		Roles:        []string{domain.RoleStudent},
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if err == domain.ErrAlreadyExists {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	tokens, err := s.tokens.GenerateTokenPair(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: user, Tokens: tokens}, nil
}

// Login verifies credentials and returns a token pair.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, fmt.Errorf("invalid email or password")
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid email or password")
	}

	tokens, err := s.tokens.GenerateTokenPair(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: user, Tokens: tokens}, nil
}
