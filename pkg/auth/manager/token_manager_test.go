package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/notes-api/internal/domain/entity"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"github.com/yourusername/notes-api/pkg/auth"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(user *entity.User) error {
	return m.Called(user).Error(0)
}

func (m *MockUserRepo) GetByID(id uint) (*entity.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(email string) (*entity.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(username string) (*entity.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepo) GetByProviderIdentity(provider, providerID string) (*entity.User, error) {
	args := m.Called(provider, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepo) Update(user *entity.User) error {
	return m.Called(user).Error(0)
}

func (m *MockUserRepo) UpdateProfile(userID uint, updates map[string]interface{}) error {
	return m.Called(userID, updates).Error(0)
}

type MockRefreshTokenRepo struct {
	mock.Mock
}

func (m *MockRefreshTokenRepo) CreateToken(token *entity.RefreshToken) (uint, error) {
	args := m.Called(token)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRefreshTokenRepo) GetTokenByHash(tokenHash string) (*entity.RefreshToken, error) {
	args := m.Called(tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.RefreshToken), args.Error(1)
}

func (m *MockRefreshTokenRepo) MarkTokenAsExpired(tokenHash string) error {
	return m.Called(tokenHash).Error(0)
}

func (m *MockRefreshTokenRepo) MarkAllAsExpiredForUser(userID uint) error {
	return m.Called(userID).Error(0)
}

func (m *MockRefreshTokenRepo) MarkOldestAsExpiredForUser(userID uint, limit int) error {
	return m.Called(userID, limit).Error(0)
}

func (m *MockRefreshTokenRepo) CountTokensForUser(userID uint) (int, error) {
	args := m.Called(userID)
	return args.Int(0), args.Error(1)
}

func (m *MockRefreshTokenRepo) CleanupExpiredTokens() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func newTestTokenManager(t *testing.T) (*TokenManager, *MockUserRepo, *MockRefreshTokenRepo) {
	t.Helper()
	userRepo := new(MockUserRepo)
	refreshRepo := new(MockRefreshTokenRepo)
	tm, err := NewTokenManager(auth.NewJWTService("test-secret", 1), userRepo, refreshRepo)
	require.NoError(t, err)
	return tm, userRepo, refreshRepo
}

func TestGenerateTokenPair(t *testing.T) {
	tm, _, refreshRepo := newTestTokenManager(t)
	user := &entity.User{ID: 42, Username: "octodev"}

	var storedHash string
	refreshRepo.On("CreateToken", mock.MatchedBy(func(rt *entity.RefreshToken) bool {
		storedHash = rt.TokenHash
		return rt.UserID == 42 && rt.ExpiresAt.After(time.Now())
	})).Return(uint(1), nil)
	refreshRepo.On("CountTokensForUser", uint(42)).Return(1, nil)

	resp, err := tm.GenerateTokenPair(user)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, uint(42), resp.UserID)
	// В БД хранится хеш, а не сам токен
	assert.Equal(t, HashToken(resp.RefreshToken), storedHash)
	assert.NotEqual(t, resp.RefreshToken, storedHash)
}

func TestGenerateTokenPair_EnforcesSessionLimit(t *testing.T) {
	tm, _, refreshRepo := newTestTokenManager(t)
	tm.SetMaxRefreshTokensPerUser(3)

	refreshRepo.On("CreateToken", mock.Anything).Return(uint(1), nil)
	refreshRepo.On("CountTokensForUser", uint(42)).Return(5, nil)
	refreshRepo.On("MarkOldestAsExpiredForUser", uint(42), 3).Return(nil)

	_, err := tm.GenerateTokenPair(&entity.User{ID: 42, Username: "octodev"})

	require.NoError(t, err)
	refreshRepo.AssertCalled(t, "MarkOldestAsExpiredForUser", uint(42), 3)
}

func TestGenerateTokenPair_NotConfigured(t *testing.T) {
	userRepo := new(MockUserRepo)
	refreshRepo := new(MockRefreshTokenRepo)
	tm, err := NewTokenManager(auth.NewJWTService("", 1), userRepo, refreshRepo)
	require.NoError(t, err)

	_, err = tm.GenerateTokenPair(&entity.User{ID: 1, Username: "a"})

	assert.ErrorIs(t, err, auth.ErrNotConfigured)
}

func TestRefreshTokens_RotatesToken(t *testing.T) {
	tm, userRepo, refreshRepo := newTestTokenManager(t)
	user := &entity.User{ID: 42, Username: "octodev"}
	oldToken := "old-refresh-token"
	stored := &entity.RefreshToken{ID: 1, UserID: 42, TokenHash: HashToken(oldToken),
		ExpiresAt: time.Now().Add(time.Hour)}

	refreshRepo.On("GetTokenByHash", HashToken(oldToken)).Return(stored, nil)
	userRepo.On("GetByID", uint(42)).Return(user, nil)
	refreshRepo.On("MarkTokenAsExpired", stored.TokenHash).Return(nil)
	refreshRepo.On("CreateToken", mock.Anything).Return(uint(2), nil)
	refreshRepo.On("CountTokensForUser", uint(42)).Return(1, nil)

	resp, err := tm.RefreshTokens(oldToken)

	require.NoError(t, err)
	assert.NotEqual(t, oldToken, resp.RefreshToken, "ротация должна выдавать новый refresh-токен")
	refreshRepo.AssertCalled(t, "MarkTokenAsExpired", stored.TokenHash)
}

func TestRefreshTokens_UnknownToken(t *testing.T) {
	tm, _, refreshRepo := newTestTokenManager(t)
	refreshRepo.On("GetTokenByHash", mock.Anything).Return(nil, apperrors.ErrNotFound)

	_, err := tm.RefreshTokens("unknown")

	assert.ErrorIs(t, err, apperrors.ErrExpiredToken)
}

func TestRevokeRefreshToken(t *testing.T) {
	tm, _, refreshRepo := newTestTokenManager(t)
	refreshRepo.On("MarkTokenAsExpired", HashToken("the-token")).Return(nil)

	assert.NoError(t, tm.RevokeRefreshToken("the-token"))
	refreshRepo.AssertExpectations(t)
}

func TestHashToken_Deterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
