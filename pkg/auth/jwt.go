package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/yourusername/notes-api/internal/domain/entity"
)

// TokenIssuer - имя издателя в claims access-токенов
const TokenIssuer = "notes-api"

// ErrNotConfigured возвращается, когда секрет подписи не задан.
// Неподписанный или слабо подписанный токен - инцидент безопасности,
// поэтому обработчики обязаны отдавать 503, а не деградировать молча.
var ErrNotConfigured = errors.New("auth is not configured: signing secret is missing")

// JWTCustomClaims содержит пользовательские поля для access-токена
type JWTCustomClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService предоставляет методы для работы с JWT
type JWTService struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTService создает новый сервис JWT
func NewJWTService(secret string, expirationHrs int) *JWTService {
	if expirationHrs <= 0 {
		expirationHrs = 24
	}
	return &JWTService{
		secret:     []byte(secret),
		expiration: time.Duration(expirationHrs) * time.Hour,
	}
}

// Expiration возвращает время жизни access-токена
func (s *JWTService) Expiration() time.Duration {
	return s.expiration
}

// GenerateToken создает новый access-токен для пользователя
func (s *JWTService) GenerateToken(user *entity.User) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNotConfigured
	}
	if user == nil {
		return "", errors.New("user is required for token generation")
	}

	now := time.Now()
	claims := JWTCustomClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken проверяет подпись и срок действия access-токена
func (s *JWTService) ParseToken(tokenString string) (*JWTCustomClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNotConfigured
	}

	claims := &JWTCustomClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	// Тем же секретом подписываются state-токены OAuth - различаем по издателю
	if claims.Issuer != TokenIssuer {
		return nil, errors.New("invalid token issuer")
	}
	return claims, nil
}
