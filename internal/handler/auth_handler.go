package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"github.com/yourusername/notes-api/pkg/auth"
	"github.com/yourusername/notes-api/pkg/auth/manager"
)

// AuthHandler обслуживает жизненный цикл токенов: обновление и выход
type AuthHandler struct {
	tokenManager *manager.TokenManager
}

// NewAuthHandler создает обработчик токенов
func NewAuthHandler(tokenManager *manager.TokenManager) *AuthHandler {
	return &AuthHandler{tokenManager: tokenManager}
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken обменивает refresh-токен на новую пару токенов:
// POST /auth/token/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	tokens, err := h.tokenManager.RefreshTokens(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrExpiredToken), errors.Is(err, apperrors.ErrNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		case errors.Is(err, auth.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is temporarily unavailable"})
		default:
			log.Printf("[AuthHandler] Ошибка обновления токенов: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh tokens"})
		}
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Logout отзывает refresh-токен: POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	if err := h.tokenManager.RevokeRefreshToken(req.RefreshToken); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Токен уже не действует - выход состоялся
			c.JSON(http.StatusOK, gin.H{"logged_out": true})
			return
		}
		log.Printf("[AuthHandler] Ошибка отзыва refresh-токена: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}
