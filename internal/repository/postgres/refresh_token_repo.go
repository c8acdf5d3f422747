package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/notes-api/internal/domain/entity"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"gorm.io/gorm"
)

// RefreshTokenRepo реализует repository.RefreshTokenRepository
type RefreshTokenRepo struct {
	db *gorm.DB
}

// NewRefreshTokenRepo создает новый репозиторий refresh-токенов
func NewRefreshTokenRepo(db *gorm.DB) (*RefreshTokenRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required for RefreshTokenRepo")
	}
	return &RefreshTokenRepo{db: db}, nil
}

func (r *RefreshTokenRepo) CreateToken(refreshToken *entity.RefreshToken) (uint, error) {
	if err := r.db.Create(refreshToken).Error; err != nil {
		return 0, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return refreshToken.ID, nil
}

func (r *RefreshTokenRepo) GetTokenByHash(tokenHash string) (*entity.RefreshToken, error) {
	var token entity.RefreshToken
	err := r.db.Where("token_hash = ?", tokenHash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if !token.IsValid() {
		return nil, apperrors.ErrExpiredToken
	}
	return &token, nil
}

func (r *RefreshTokenRepo) MarkTokenAsExpired(tokenHash string) error {
	result := r.db.Model(&entity.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("is_expired", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark token as expired: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepo) MarkAllAsExpiredForUser(userID uint) error {
	return r.db.Model(&entity.RefreshToken{}).
		Where("user_id = ? AND is_expired = false", userID).
		Update("is_expired", true).Error
}

// MarkOldestAsExpiredForUser оставляет не более limit свежих активных токенов
func (r *RefreshTokenRepo) MarkOldestAsExpiredForUser(userID uint, limit int) error {
	subQuery := r.db.Model(&entity.RefreshToken{}).
		Select("id").
		Where("user_id = ? AND is_expired = false", userID).
		Order("created_at DESC").
		Limit(limit)
	return r.db.Model(&entity.RefreshToken{}).
		Where("user_id = ? AND is_expired = false AND id NOT IN (?)", userID, subQuery).
		Update("is_expired", true).Error
}

func (r *RefreshTokenRepo) CountTokensForUser(userID uint) (int, error) {
	var count int64
	err := r.db.Model(&entity.RefreshToken{}).
		Where("user_id = ? AND is_expired = false AND expires_at > ?", userID, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count refresh tokens: %w", err)
	}
	return int(count), nil
}

func (r *RefreshTokenRepo) CleanupExpiredTokens() (int64, error) {
	result := r.db.
		Where("is_expired = true OR expires_at < ?", time.Now()).
		Delete(&entity.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
