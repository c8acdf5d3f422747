package postgres

import (
	"errors"
	"fmt"

	"github.com/yourusername/notes-api/internal/domain/entity"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"gorm.io/gorm"
)

// OAuthBindingRepo реализует repository.OAuthBindingRepository
type OAuthBindingRepo struct {
	db *gorm.DB
}

// NewOAuthBindingRepo создает новый репозиторий привязок внешних провайдеров
func NewOAuthBindingRepo(db *gorm.DB) *OAuthBindingRepo {
	return &OAuthBindingRepo{db: db}
}

func (r *OAuthBindingRepo) Create(binding *entity.OAuthBinding) error {
	if err := r.db.Create(binding).Error; err != nil {
		if IsUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create binding: %w", err)
	}
	return nil
}

func (r *OAuthBindingRepo) GetByProviderIdentity(provider, providerID string) (*entity.OAuthBinding, error) {
	var binding entity.OAuthBinding
	err := r.db.
		Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get binding by provider identity: %w", err)
	}
	return &binding, nil
}

func (r *OAuthBindingRepo) GetByUserAndProvider(userID uint, provider string) (*entity.OAuthBinding, error) {
	var binding entity.OAuthBinding
	err := r.db.
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get binding by user/provider: %w", err)
	}
	return &binding, nil
}

func (r *OAuthBindingRepo) ListByUser(userID uint) ([]entity.OAuthBinding, error) {
	var bindings []entity.OAuthBinding
	if err := r.db.Where("user_id = ?", userID).Order("created_at").Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("failed to list bindings for user: %w", err)
	}
	return bindings, nil
}

func (r *OAuthBindingRepo) DeleteByUserAndProvider(userID uint, provider string) error {
	result := r.db.
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&entity.OAuthBinding{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete binding: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Reassign выполняет перенос привязки (provider, providerID) на userID одной
// транзакцией: падение посередине не оставит привязку осиротевшей или задвоенной.
func (r *OAuthBindingRepo) Reassign(userID uint, provider, providerID, providerUsername string) (*entity.OAuthBinding, error) {
	binding := &entity.OAuthBinding{
		UserID:           userID,
		Provider:         provider,
		ProviderID:       providerID,
		ProviderUsername: providerUsername,
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("provider = ? AND provider_id = ?", provider, providerID).
			Delete(&entity.OAuthBinding{}).Error; err != nil {
			return fmt.Errorf("failed to remove stale binding: %w", err)
		}
		if err := tx.Create(binding).Error; err != nil {
			return fmt.Errorf("failed to create binding for new owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}
