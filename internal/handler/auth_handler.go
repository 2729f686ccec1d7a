package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/service"
)

const refreshTokenCookie = "kelasku-refresh-token"

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *service.AuthService
	tokenService *service.TokenService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, tokenService *service.TokenService) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		tokenService: tokenService,
	}
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshTokenCookie,
		Value:    token,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
		HTTPOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: "Lax",
		Path:     "/",
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshTokenCookie,
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		HTTPOnly: true,
		Secure:   false,
		SameSite: "Lax",
		Path:     "/",
	})
}

func authSuccessResponse(c *fiber.Ctx, resp *service.AuthResponse) error {
	return c.JSON(fiber.Map{
		"token":      resp.Tokens.AccessToken,
		"expires_in": resp.Tokens.ExpiresIn,
		"user": fiber.Map{
			"id":    resp.User.ID,
			"email": resp.User.Email,
			"name":  resp.User.Name,
			"roles": resp.User.Roles,
		},
	})
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req service.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	resp, err := h.authService.Register(c.UserContext(), req, c.Get("User-Agent"), c.IP())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "email already registered",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.setRefreshCookie(c, resp.Tokens.RefreshToken)
	c.Status(fiber.StatusCreated)
	return authSuccessResponse(c, resp)
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	resp, err := h.authService.Login(c.UserContext(), req.Email, req.Password, c.Get("User-Agent"), c.IP())
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid email or password",
		})
	}

	h.setRefreshCookie(c, resp.Tokens.RefreshToken)
	return authSuccessResponse(c, resp)
}

// RefreshToken handles POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := c.Cookies(refreshTokenCookie)
	if refreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "no refresh token provided",
		})
	}

	tokenPair, err := h.tokenService.RefreshAccessToken(c.UserContext(), refreshToken, c.Get("User-Agent"), c.IP())
	if err != nil {
		h.clearRefreshCookie(c)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired refresh token",
		})
	}

	h.setRefreshCookie(c, tokenPair.RefreshToken)
	return c.JSON(fiber.Map{
		"token":      tokenPair.AccessToken,
		"expires_in": tokenPair.ExpiresIn,
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	refreshToken := c.Cookies(refreshTokenCookie)
	if refreshToken != "" {
		// Best effort: a missing row just means the session was already gone
		_ = h.tokenService.RevokeRefreshToken(c.UserContext(), refreshToken)
	}
	h.clearRefreshCookie(c)
	return c.JSON(fiber.Map{
		"message": "logged out",
	})
}
