package service

import (
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/yourusername/notes-api/internal/domain/repository"
)

const (
	// StateTokenTTL - срок жизни state-токена: окно на прохождение
	// авторизации у провайдера и возврат на callback
	StateTokenTTL = 5 * time.Minute

	// stateTokenIssuer отличает state-токены от access-токенов,
	// подписанных тем же секретом
	stateTokenIssuer = "notes-api/oauth-state"

	// stateUsedKeyPrefix - префикс redis-ключей использованных state-токенов
	stateUsedKeyPrefix = "oauth:state_used:"
)

// StatePayload - полезная нагрузка state-токена: весь контекст потока
// переносится через провайдера в подписанном виде, сервер между
// authorize и callback ничего не хранит.
type StatePayload struct {
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url,omitempty"`
	IOSLogin    bool   `json:"ios_login,omitempty"`
	// BindMode: поток привязки провайдера к существующему аккаунту
	BindMode bool `json:"bind_mode,omitempty"`
	// UserID заполняется только в режиме привязки
	UserID uint `json:"user_id,omitempty"`
}

// VerifiedState - результат успешной проверки state-токена
type VerifiedState struct {
	Payload   StatePayload
	ID        string
	ExpiresAt time.Time
}

type stateClaims struct {
	StatePayload
	jwt.RegisteredClaims
}

// StateTokenService выпускает и проверяет state-токены OAuth (HS256 JWT).
// Подпись защищает от CSRF и подделки контекста, redis закрывает повторное
// использование токена в пределах его срока жизни.
type StateTokenService struct {
	secret []byte
	cache  repository.CacheRepository
	ttl    time.Duration
}

// NewStateTokenService создает сервис state-токенов.
// cache может быть nil - тогда одноразовость не контролируется
// (защита подписью и TTL сохраняется).
func NewStateTokenService(secret string, cache repository.CacheRepository) (*StateTokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required for StateTokenService")
	}
	return &StateTokenService{
		secret: []byte(secret),
		cache:  cache,
		ttl:    StateTokenTTL,
	}, nil
}

// Issue выпускает подписанный state-токен с указанным контекстом потока
func (s *StateTokenService) Issue(payload StatePayload) (string, error) {
	now := time.Now()
	claims := stateClaims{
		StatePayload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateTokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state token: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись, издателя и срок действия state-токена.
// При любой проблеме возвращается nil: вызывающий код не должен
// различать причины отказа (и тем более сообщать их наружу).
func (s *StateTokenService) Verify(tokenString string) *VerifiedState {
	if tokenString == "" {
		return nil
	}
	claims := &stateClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		log.Printf("[StateTokenService] Отклонен state-токен: %v", err)
		return nil
	}
	// Издателя парсер не проверяет - сверяем сами, иначе access-токен,
	// подписанный тем же секретом, прошел бы как state
	if claims.Issuer != stateTokenIssuer {
		log.Printf("[StateTokenService] Отклонен токен с издателем %q", claims.Issuer)
		return nil
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	return &VerifiedState{
		Payload:   claims.StatePayload,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

// Consume помечает state-токен использованным. Возвращает false, если токен
// уже предъявляли - такой callback отклоняется как replay.
// При недоступном redis деградируем до проверки только подписи и TTL:
// отказ всем пользователям во входе хуже теоретического replay-окна.
func (s *StateTokenService) Consume(state *VerifiedState) bool {
	if s.cache == nil {
		return true
	}
	// Ключ живет чуть дольше самого токена, чтобы закрыть границу истечения
	ttl := time.Until(state.ExpiresAt) + time.Minute
	ok, err := s.cache.SetNX(stateUsedKeyPrefix+state.ID, 1, ttl)
	if err != nil {
		log.Printf("[StateTokenService] Redis недоступен при проверке одноразовости state: %v", err)
		return true
	}
	if !ok {
		log.Printf("[StateTokenService] Повторное использование state-токена jti=%s", state.ID)
	}
	return ok
}
