package entity

import (
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User представляет пользователя в системе
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email    string `gorm:"size:100;not null;uniqueIndex" json:"email"`
	// Password пустой для аккаунтов, созданных через OAuth (вход только через провайдера)
	Password            string `gorm:"size:100;not null;default:''" json:"-"`
	PasswordAuthEnabled bool   `gorm:"not null;default:true" json:"-"`
	Nickname            string `gorm:"size:100;not null;default:''" json:"nickname"`
	Avatar              string `gorm:"size:255;not null;default:''" json:"avatar"`

	// Основной внешний провайдер, через который был создан аккаунт.
	// Дополнительные привязки хранятся в oauth_bindings.
	AuthProvider   string `gorm:"size:20;not null;default:'';index:idx_users_auth_provider,priority:1" json:"auth_provider"`
	AuthProviderID string `gorm:"size:255;not null;default:'';index:idx_users_auth_provider,priority:2" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (User) TableName() string {
	return "users"
}

// HasPassword возвращает true, если для аккаунта задан пароль
// (аккаунты, созданные через OAuth, пароля не имеют)
func (u *User) HasPassword() bool {
	return u.Password != "" && u.PasswordAuthEnabled
}

// BeforeSave хеширует пароль перед сохранением, только если он не является bcrypt-хешем
func (u *User) BeforeSave(tx *gorm.DB) error {
	// Хешируем пароль только если он:
	// 1. Не пустой (OAuth-аккаунты живут без пароля)
	// 2. Не является уже bcrypt-хешем (начинается с "$2a$", "$2b$" или "$2y$")
	if len(u.Password) > 0 && !strings.HasPrefix(u.Password, "$2a$") &&
		!strings.HasPrefix(u.Password, "$2b$") && !strings.HasPrefix(u.Password, "$2y$") {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[User.BeforeSave] Ошибка при хешировании пароля для email=%s: %v", u.Email, err)
			return err
		}
		u.Password = string(hashedPassword)
	}
	return nil
}

// CheckPassword проверяет, соответствует ли переданный пароль хешу
func (u *User) CheckPassword(password string) bool {
	if !u.HasPassword() {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}
