package entity

import "time"

// OAuthBinding связывает локального пользователя с внешней учетной записью
// провайдера (github, apple). Пара (provider, provider_id) глобально уникальна.
type OAuthBinding struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	Provider         string    `gorm:"size:20;not null;uniqueIndex:idx_provider_identity,priority:1" json:"provider"`
	ProviderID       string    `gorm:"size:255;not null;uniqueIndex:idx_provider_identity,priority:2" json:"provider_id"`
	ProviderUsername string    `gorm:"size:100;not null;default:''" json:"provider_username"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (OAuthBinding) TableName() string {
	return "oauth_bindings"
}
