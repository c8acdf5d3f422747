package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/yourusername/notes-api/internal/config"
)

// ExternalIdentity - нормализованный профиль пользователя у внешнего провайдера.
// Это единственное, что провайдер-адаптеры отдают наружу: весь остальной
// код работает с этой структурой и не знает про форматы GitHub/Apple.
type ExternalIdentity struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	// SuggestedUsername - желаемое имя (login у GitHub, синтезированное у Apple).
	// Уникальность НЕ гарантируется, её обеспечивает OAuthService при создании.
	SuggestedUsername string
	DisplayName       string
	AvatarURL         string
}

// ProviderToken - результат обмена авторизационного кода
type ProviderToken struct {
	AccessToken string
	TokenType   string
	// IDToken присутствует только у OIDC-провайдеров (Apple)
	IDToken string
}

// CallbackData - сырые параметры callback-запроса провайдера
type CallbackData struct {
	Code  string
	State string
	// ErrorCode - значение параметра error (например, "access_denied")
	ErrorCode string
	// RawUser - JSON из form-параметра "user"; Apple присылает его
	// только при первой авторизации пользователя
	RawUser string
}

// ClassifyCallbackError переводит код ошибки из callback-параметра error
// в ошибку потока. Отказ пользователя - отдельный исход: фронтенд
// показывает не ошибку, а возврат на страницу входа.
func ClassifyCallbackError(code string) error {
	switch code {
	case "access_denied", "user_cancelled_authorize":
		return ErrUserCancelled
	default:
		return fmt.Errorf("%w: %s", ErrExchangeFailed, code)
	}
}

// ProviderAdapter описывает контракт одного внешнего провайдера.
// Адаптеры не имеют состояния между запросами (кроме кеша ключей)
// и не пишут в БД - это зона ответственности OAuthService.
type ProviderAdapter interface {
	// Name возвращает каноническое имя провайдера ("github", "apple")
	Name() string

	// CallbackMethod возвращает HTTP-метод callback-запроса:
	// GET у GitHub, POST (form_post) у Apple
	CallbackMethod() string

	// ValidateConfig проверяет полноту конфигурации перед началом потока
	ValidateConfig(cfg config.OAuthProviderConfig) error

	// BuildAuthorizeURL формирует URL страницы авторизации провайдера
	BuildAuthorizeURL(cfg config.OAuthProviderConfig, state string) (string, error)

	// ExchangeCode обменивает авторизационный код на токены провайдера
	ExchangeCode(ctx context.Context, cfg config.OAuthProviderConfig, code string) (*ProviderToken, error)

	// FetchIdentity получает и нормализует профиль пользователя
	FetchIdentity(ctx context.Context, cfg config.OAuthProviderConfig, token *ProviderToken, callback *CallbackData) (*ExternalIdentity, error)
}

// ProviderRegistry хранит зарегистрированные адаптеры провайдеров.
// Регистрация происходит один раз при старте, дальше только чтение,
// поэтому мьютекс не нужен.
type ProviderRegistry struct {
	adapters map[string]ProviderAdapter
}

// NewProviderRegistry создает пустой реестр провайдеров
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{adapters: make(map[string]ProviderAdapter)}
}

// Register добавляет адаптер в реестр
func (r *ProviderRegistry) Register(adapter ProviderAdapter) {
	r.adapters[strings.ToLower(adapter.Name())] = adapter
}

// Get возвращает адаптер по имени провайдера
func (r *ProviderRegistry) Get(name string) (ProviderAdapter, error) {
	adapter, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return adapter, nil
}

// Names возвращает имена всех зарегистрированных провайдеров
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// generateRandomHex генерирует случайную hex-строку длиной length*2 символов
func generateRandomHex(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "00000000"[:length*2]
	}
	return hex.EncodeToString(bytes)
}

// hashPrefix возвращает первые n hex-символов SHA-256 от значения
func hashPrefix(value string, n int) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:n]
}

// sanitizeUsername приводит внешнее имя к допустимому виду:
// строчные буквы, цифры и подчеркивания
func sanitizeUsername(username string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(username) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
