package repository

import "github.com/yourusername/notes-api/internal/domain/entity"

// OAuthBindingRepository хранит дополнительные привязки пользователей к внешним провайдерам
type OAuthBindingRepository interface {
	Create(binding *entity.OAuthBinding) error
	GetByProviderIdentity(provider, providerID string) (*entity.OAuthBinding, error)
	GetByUserAndProvider(userID uint, provider string) (*entity.OAuthBinding, error)
	ListByUser(userID uint) ([]entity.OAuthBinding, error)
	DeleteByUserAndProvider(userID uint, provider string) error
	// Reassign атомарно (в одной транзакции) удаляет существующую привязку
	// (provider, providerID) и создает новую под userID. Используется при
	// подтвержденном пользователем слиянии аккаунтов.
	Reassign(userID uint, provider, providerID, providerUsername string) (*entity.OAuthBinding, error)
}
