package manager

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/notes-api/internal/domain/entity"
	"github.com/yourusername/notes-api/internal/domain/repository"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"github.com/yourusername/notes-api/pkg/auth"
)

// Константы для настройки токенов
const (
	// Время жизни refresh-токена по умолчанию (30 дней)
	DefaultRefreshTokenLifetime = 30 * 24 * time.Hour
	// Максимальное количество активных refresh-токенов на пользователя (по умолчанию)
	DefaultMaxRefreshTokensPerUser = 10
)

// TokenResponse представляет ответ с парой токенов
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       uint   `json:"user_id"`
}

// TokenManager управляет выдачей и обновлением пар токенов
type TokenManager struct {
	jwtService              *auth.JWTService
	userRepo                repository.UserRepository
	refreshTokenRepo        repository.RefreshTokenRepository
	refreshTokenExpiry      time.Duration
	maxRefreshTokensPerUser int
}

// NewTokenManager создает новый менеджер токенов и возвращает ошибку при проблемах
func NewTokenManager(
	jwtService *auth.JWTService,
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
) (*TokenManager, error) {
	if jwtService == nil {
		return nil, fmt.Errorf("JWTService is required for TokenManager")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("UserRepository is required for TokenManager")
	}
	if refreshTokenRepo == nil {
		return nil, fmt.Errorf("RefreshTokenRepository is required for TokenManager")
	}

	return &TokenManager{
		jwtService:              jwtService,
		userRepo:                userRepo,
		refreshTokenRepo:        refreshTokenRepo,
		refreshTokenExpiry:      DefaultRefreshTokenLifetime,
		maxRefreshTokensPerUser: DefaultMaxRefreshTokensPerUser,
	}, nil
}

// SetRefreshTokenExpiry устанавливает время жизни refresh токена
func (m *TokenManager) SetRefreshTokenExpiry(duration time.Duration) {
	if duration > 0 {
		m.refreshTokenExpiry = duration
		log.Printf("[TokenManager] Refresh token expiry set to: %v", duration)
	} else {
		log.Printf("[TokenManager] Warning: Invalid refresh token expiry duration provided: %v. Using default: %v", duration, m.refreshTokenExpiry)
	}
}

// SetMaxRefreshTokensPerUser устанавливает максимальное количество активных refresh-токенов на пользователя
func (m *TokenManager) SetMaxRefreshTokensPerUser(limit int) {
	if limit > 0 {
		m.maxRefreshTokensPerUser = limit
		log.Printf("[TokenManager] Max refresh tokens per user set to: %d", limit)
	}
}

// GenerateTokenPair создает новую пару токенов (access и refresh) для пользователя
func (m *TokenManager) GenerateTokenPair(user *entity.User) (*TokenResponse, error) {
	accessToken, err := m.jwtService.GenerateToken(user)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, err
		}
		log.Printf("[TokenManager] Ошибка генерации access-токена для пользователя ID=%d: %v", user.ID, err)
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshTokenString, err := m.generateRefreshToken(user.ID)
	if err != nil {
		log.Printf("[TokenManager] Ошибка генерации refresh-токена для пользователя ID=%d: %v", user.ID, err)
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	// Лимитируем количество активных refresh-токенов
	if err := m.limitUserSessions(user.ID); err != nil {
		log.Printf("[TokenManager] Ошибка при лимитировании сессий пользователя ID=%d: %v", user.ID, err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int(m.jwtService.Expiration().Seconds()),
		UserID:       user.ID,
	}, nil
}

// RefreshTokens обновляет пару токенов, используя refresh токен
func (m *TokenManager) RefreshTokens(refreshToken string) (*TokenResponse, error) {
	tokenEntity, err := m.refreshTokenRepo.GetTokenByHash(HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrExpiredToken) {
			return nil, apperrors.ErrExpiredToken
		}
		log.Printf("[TokenManager] Ошибка при получении refresh-токена: %v", err)
		return nil, fmt.Errorf("failed to check refresh token: %w", err)
	}

	user, err := m.userRepo.GetByID(tokenEntity.UserID)
	if err != nil {
		log.Printf("[TokenManager] Ошибка при получении пользователя ID=%d для обновления токенов: %v", tokenEntity.UserID, err)
		return nil, err
	}

	// Помечаем старый refresh токен как истекший (ротация)
	if err := m.refreshTokenRepo.MarkTokenAsExpired(tokenEntity.TokenHash); err != nil {
		log.Printf("[TokenManager] Ошибка при маркировке старого refresh-токена (ID: %d): %v", tokenEntity.ID, err)
		// Не критично, продолжаем
	}

	return m.GenerateTokenPair(user)
}

// RevokeRefreshToken отзывает (помечает как истекший) указанный refresh токен
func (m *TokenManager) RevokeRefreshToken(refreshToken string) error {
	if err := m.refreshTokenRepo.MarkTokenAsExpired(HashToken(refreshToken)); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound
		}
		log.Printf("[TokenManager] Ошибка при отзыве refresh-токена: %v", err)
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// CleanupExpiredTokens удаляет все истекшие refresh-токены
func (m *TokenManager) CleanupExpiredTokens() error {
	count, err := m.refreshTokenRepo.CleanupExpiredTokens()
	if err != nil {
		log.Printf("[TokenManager] Ошибка при очистке истекших refresh-токенов: %v", err)
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	log.Printf("[TokenManager] Выполнена очистка %d истекших токенов", count)
	return nil
}

// generateRefreshToken генерирует новый refresh-токен и сохраняет его хеш в БД
func (m *TokenManager) generateRefreshToken(userID uint) (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	tokenString := hex.EncodeToString(randomBytes)

	expiresAt := time.Now().Add(m.refreshTokenExpiry)
	token := entity.NewRefreshToken(userID, HashToken(tokenString), expiresAt)

	if _, err := m.refreshTokenRepo.CreateToken(token); err != nil {
		return "", err
	}

	return tokenString, nil
}

// limitUserSessions оставляет не более maxRefreshTokensPerUser активных сессий
func (m *TokenManager) limitUserSessions(userID uint) error {
	count, err := m.refreshTokenRepo.CountTokensForUser(userID)
	if err != nil {
		return fmt.Errorf("ошибка подсчета токенов: %w", err)
	}

	if count > m.maxRefreshTokensPerUser {
		log.Printf("[TokenManager] Превышен лимит сессий для пользователя ID=%d (%d > %d). Удаление старых.", userID, count, m.maxRefreshTokensPerUser)
		if err := m.refreshTokenRepo.MarkOldestAsExpiredForUser(userID, m.maxRefreshTokensPerUser); err != nil {
			return fmt.Errorf("ошибка маркировки старых токенов: %w", err)
		}
	}
	return nil
}

// HashToken хеширует значение refresh-токена с использованием SHA-256
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
