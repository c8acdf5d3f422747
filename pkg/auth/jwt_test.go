package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/notes-api/internal/domain/entity"
)

func TestJWTService_GenerateAndParse(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	user := &entity.User{ID: 42, Username: "octodev"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "octodev", claims.Username)
	assert.Equal(t, TokenIssuer, claims.Issuer)
}

func TestJWTService_ParseRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("secret-one", 1)
	verifier := NewJWTService("secret-two", 1)

	token, err := issuer.GenerateToken(&entity.User{ID: 1, Username: "a"})
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	assert.Error(t, err)
}

func TestJWTService_ParseRejectsForeignIssuer(t *testing.T) {
	// Тем же секретом подписываются state-токены OAuth: подписанный,
	// но выпущенный другим издателем токен не должен открывать сессию
	svc := NewJWTService("test-secret", 1)

	claims := JWTCustomClaims{
		UserID:   42,
		Username: "octodev",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "notes-api/oauth-state",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	assert.Error(t, err)
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	svc.expiration = -1

	token, err := svc.GenerateToken(&entity.User{ID: 1, Username: "a"})
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	assert.Error(t, err)
}

func TestJWTService_MissingSecret(t *testing.T) {
	svc := NewJWTService("", 1)

	_, err := svc.GenerateToken(&entity.User{ID: 1, Username: "a"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = svc.ParseToken("whatever")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestJWTService_NilUser(t *testing.T) {
	svc := NewJWTService("test-secret", 1)

	_, err := svc.GenerateToken(nil)
	assert.Error(t, err)
}

func TestNewJWTService_DefaultExpiration(t *testing.T) {
	svc := NewJWTService("test-secret", 0)
	assert.Equal(t, float64(24), svc.Expiration().Hours())
}
