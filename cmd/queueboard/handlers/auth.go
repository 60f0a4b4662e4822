package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

// AuthHandler issues and checks display tokens
type AuthHandler struct {
	auth *service.AuthService
	log  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(c *container.Container) *AuthHandler {
	return &AuthHandler{
		auth: c.Auth,
		log:  c.Components.Logger,
	}
}

// TokenResponse is returned by login and verify-token
type TokenResponse struct {
	Token     string    `json:"token,omitempty"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
	Valid     bool      `json:"valid"`
}

// Login checks credentials and issues a token
// POST /api/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	if req.Username == "" || req.Password == "" {
		return respondError(c, h.log, fmt.Errorf("%w: username and password are required", models.ErrValidation))
	}

	token, expires, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		Username:  req.Username,
		ExpiresAt: expires,
		Valid:     true,
	})
}

// VerifyToken checks the bearer token (or a {"token"} body)
// POST /api/verify-token
func (h *AuthHandler) VerifyToken(c echo.Context) error {
	token := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer"))
	if token == "" {
		var req struct {
			Token string `json:"token"`
		}
		_ = c.Bind(&req)
		token = req.Token
	}

	claims, err := h.auth.Verify(token)
	if err != nil {
		return respondError(c, h.log, err)
	}

	resp := TokenResponse{Username: claims.Username, Valid: true}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	return c.JSON(http.StatusOK, resp)
}
