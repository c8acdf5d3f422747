package repository

import (
	"github.com/yourusername/notes-api/internal/domain/entity"
)

// RefreshTokenRepository интерфейс для работы с refresh-токенами
type RefreshTokenRepository interface {
	// CreateToken создает новый refresh-токен и возвращает его ID
	CreateToken(refreshToken *entity.RefreshToken) (uint, error)

	// GetTokenByHash находит refresh-токен по SHA-256 хешу значения
	GetTokenByHash(tokenHash string) (*entity.RefreshToken, error)

	// MarkTokenAsExpired помечает токен как истекший
	MarkTokenAsExpired(tokenHash string) error

	// MarkAllAsExpiredForUser помечает все токены пользователя как истекшие
	MarkAllAsExpiredForUser(userID uint) error

	// MarkOldestAsExpiredForUser оставляет не более limit активных токенов пользователя
	MarkOldestAsExpiredForUser(userID uint, limit int) error

	// CountTokensForUser подсчитывает количество активных токенов пользователя
	CountTokensForUser(userID uint) (int, error)

	// CleanupExpiredTokens удаляет все просроченные и истекшие токены
	CleanupExpiredTokens() (int64, error)
}
