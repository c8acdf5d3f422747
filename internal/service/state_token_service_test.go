package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// signedTokenWithIssuer выпускает валидный HS256 JWT с произвольным издателем
func signedTokenWithIssuer(t *testing.T, secret, issuer string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        "test-jti",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

// MockCacheRepo - мок repository.CacheRepository
type MockCacheRepo struct {
	mock.Mock
}

func (m *MockCacheRepo) Set(key string, value interface{}, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheRepo) Get(key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

func (m *MockCacheRepo) Delete(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockCacheRepo) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func TestStateTokenService_IssueAndVerify(t *testing.T) {
	svc, err := NewStateTokenService("test-secret", nil)
	require.NoError(t, err)

	payload := StatePayload{
		Provider:    "github",
		RedirectURL: "/notes",
		IOSLogin:    true,
		BindMode:    true,
		UserID:      42,
	}
	token, err := svc.Issue(payload)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verified := svc.Verify(token)
	require.NotNil(t, verified)
	assert.Equal(t, payload, verified.Payload)
	assert.NotEmpty(t, verified.ID)
	assert.WithinDuration(t, time.Now().Add(StateTokenTTL), verified.ExpiresAt, 5*time.Second)
}

func TestStateTokenService_VerifyRejectsGarbage(t *testing.T) {
	svc, err := NewStateTokenService("test-secret", nil)
	require.NoError(t, err)

	assert.Nil(t, svc.Verify(""))
	assert.Nil(t, svc.Verify("not-a-jwt"))
	assert.Nil(t, svc.Verify("eyJhbGciOiJIUzI1NiJ9.e30.invalid"))
}

func TestStateTokenService_VerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewStateTokenService("secret-one", nil)
	require.NoError(t, err)
	verifier, err := NewStateTokenService("secret-two", nil)
	require.NoError(t, err)

	token, err := issuer.Issue(StatePayload{Provider: "github"})
	require.NoError(t, err)

	assert.Nil(t, verifier.Verify(token))
}

func TestStateTokenService_VerifyRejectsAccessToken(t *testing.T) {
	// Access-токены подписаны тем же секретом, но другим издателем -
	// подсунуть их вместо state нельзя
	svc, err := NewStateTokenService("shared-secret", nil)
	require.NoError(t, err)

	assert.Nil(t, svc.Verify(signedTokenWithIssuer(t, "shared-secret", "notes-api")))
}

func TestStateTokenService_VerifyRejectsExpired(t *testing.T) {
	svc, err := NewStateTokenService("test-secret", nil)
	require.NoError(t, err)
	svc.ttl = -time.Minute

	token, err := svc.Issue(StatePayload{Provider: "github"})
	require.NoError(t, err)

	assert.Nil(t, svc.Verify(token))
}

func TestStateTokenService_ConsumeOnce(t *testing.T) {
	cache := new(MockCacheRepo)
	cache.On("SetNX", mock.AnythingOfType("string"), 1, mock.AnythingOfType("time.Duration")).
		Return(true, nil).Once()
	cache.On("SetNX", mock.AnythingOfType("string"), 1, mock.AnythingOfType("time.Duration")).
		Return(false, nil).Once()

	svc, err := NewStateTokenService("test-secret", cache)
	require.NoError(t, err)

	token, err := svc.Issue(StatePayload{Provider: "github"})
	require.NoError(t, err)
	verified := svc.Verify(token)
	require.NotNil(t, verified)

	assert.True(t, svc.Consume(verified), "первое предъявление должно пройти")
	assert.False(t, svc.Consume(verified), "повторное предъявление должно быть отклонено")
	cache.AssertExpectations(t)
}

func TestStateTokenService_ConsumeDegradesWithoutRedis(t *testing.T) {
	cache := new(MockCacheRepo)
	cache.On("SetNX", mock.Anything, mock.Anything, mock.Anything).
		Return(false, assert.AnError)

	svc, err := NewStateTokenService("test-secret", cache)
	require.NoError(t, err)

	token, err := svc.Issue(StatePayload{Provider: "apple"})
	require.NoError(t, err)
	verified := svc.Verify(token)
	require.NotNil(t, verified)

	// Недоступный redis не должен блокировать вход
	assert.True(t, svc.Consume(verified))
}

func TestStateTokenService_ConsumeWithoutCache(t *testing.T) {
	svc, err := NewStateTokenService("test-secret", nil)
	require.NoError(t, err)

	token, err := svc.Issue(StatePayload{Provider: "github"})
	require.NoError(t, err)
	verified := svc.Verify(token)
	require.NotNil(t, verified)

	assert.True(t, svc.Consume(verified))
}
