package repository

import (
	"github.com/yourusername/notes-api/internal/domain/entity"
)

// UserRepository определяет методы для работы с пользователями
type UserRepository interface {
	Create(user *entity.User) error
	GetByID(id uint) (*entity.User, error)
	GetByEmail(email string) (*entity.User, error)
	GetByUsername(username string) (*entity.User, error)
	// GetByProviderIdentity ищет пользователя по основной внешней учетной записи
	// (поля auth_provider/auth_provider_id на самом пользователе).
	GetByProviderIdentity(provider, providerID string) (*entity.User, error)
	Update(user *entity.User) error
	UpdateProfile(userID uint, updates map[string]interface{}) error
}
