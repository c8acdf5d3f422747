package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/notes-api/internal/config"
)

func appleTestConfig(t *testing.T) config.OAuthProviderConfig {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	return config.OAuthProviderConfig{
		Enabled:     true,
		ClientID:    "com.example.notes",
		TeamID:      "TEAM123456",
		KeyID:       "KEY1234567",
		PrivateKey:  string(pemKey),
		CallbackURL: "https://api.example.com/api/auth/oauth/apple/callback",
	}
}

// appleSigningKey - RSA-ключ, которым тест подписывает id_token от имени Apple
type appleSigningKey struct {
	key *rsa.PrivateKey
	kid string
}

func newAppleSigningKey(t *testing.T) *appleSigningKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &appleSigningKey{key: key, kid: "test-key-1"}
}

// jwksHandler отдает JWKS c публичной частью ключа
func (k *appleSigningKey) jwksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]interface{}{
			"keys": []map[string]string{{
				"kid": k.kid,
				"kty": "RSA",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(k.key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.key.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}
}

func (k *appleSigningKey) signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.key)
	require.NoError(t, err)
	return signed
}

func newTestAppleAdapter(server *httptest.Server) *AppleAdapter {
	adapter := NewAppleAdapter()
	adapter.httpClient = server.Client()
	adapter.tokenURL = server.URL + "/auth/token"
	adapter.jwksURL = server.URL + "/auth/keys"
	adapter.issuer = appleIssuer
	return adapter
}

func TestAppleAdapter_ValidateConfig(t *testing.T) {
	adapter := NewAppleAdapter()

	assert.NoError(t, adapter.ValidateConfig(appleTestConfig(t)))

	disabled := appleTestConfig(t)
	disabled.Enabled = false
	assert.ErrorIs(t, adapter.ValidateConfig(disabled), ErrProviderDisabled)

	incomplete := appleTestConfig(t)
	incomplete.TeamID = ""
	assert.ErrorIs(t, adapter.ValidateConfig(incomplete), ErrProviderMisconfigured)
}

func TestAppleAdapter_GenerateClientSecret(t *testing.T) {
	adapter := NewAppleAdapter()
	cfg := appleTestConfig(t)

	secret, err := adapter.generateClientSecret(cfg)
	require.NoError(t, err)

	// Проверяем заголовок и claims без проверки подписи
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	token, _, err := parser.ParseUnverified(secret, claims)
	require.NoError(t, err)

	assert.Equal(t, "ES256", token.Header["alg"])
	assert.Equal(t, cfg.KeyID, token.Header["kid"])
	assert.Equal(t, cfg.TeamID, claims["iss"])
	assert.Equal(t, cfg.ClientID, claims["sub"])
	assert.Equal(t, appleIssuer, claims["aud"])
}

func TestAppleAdapter_GenerateClientSecretBadKey(t *testing.T) {
	adapter := NewAppleAdapter()
	cfg := appleTestConfig(t)
	cfg.PrivateKey = "not a pem"

	_, err := adapter.generateClientSecret(cfg)
	assert.Error(t, err)
}

func TestAppleAdapter_ExchangeCode(t *testing.T) {
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "com.example.notes", r.PostForm.Get("client_id"))
		assert.NotEmpty(t, r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at_abc","id_token":"%s"}`,
			signing.signIDToken(t, jwt.MapClaims{
				"iss": appleIssuer,
				"aud": "com.example.notes",
				"sub": "001234.abcdef",
				"exp": time.Now().Add(time.Hour).Unix(),
			}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	token, err := adapter.ExchangeCode(context.Background(), appleTestConfig(t), "the-code")

	require.NoError(t, err)
	assert.Equal(t, "at_abc", token.AccessToken)
	assert.NotEmpty(t, token.IDToken)
}

func TestAppleAdapter_ExchangeCodeWithoutIDToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at_abc"}`))
	}))
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	_, err := adapter.ExchangeCode(context.Background(), appleTestConfig(t), "the-code")

	assert.ErrorIs(t, err, ErrExchangeFailed)
}

func TestAppleAdapter_FetchIdentity(t *testing.T) {
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", signing.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := signing.signIDToken(t, jwt.MapClaims{
		"iss":            appleIssuer,
		"aud":            "com.example.notes",
		"sub":            "001234.abcdef",
		"email":          "dev@privaterelay.appleid.com",
		"email_verified": "true",
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	identity, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken},
		&CallbackData{RawUser: `{"name":{"firstName":"Jamie","lastName":"Appleseed"},"email":"dev@privaterelay.appleid.com"}`})

	require.NoError(t, err)
	assert.Equal(t, "apple", identity.Provider)
	assert.Equal(t, "001234.abcdef", identity.ProviderID)
	assert.Equal(t, "dev@privaterelay.appleid.com", identity.Email)
	assert.True(t, identity.EmailVerified)
	assert.Equal(t, "Jamie Appleseed", identity.DisplayName)
	assert.Equal(t, "jamieappleseed", identity.SuggestedUsername)
}

func TestAppleAdapter_FetchIdentitySynthesizesUsername(t *testing.T) {
	// Повторный вход: form-параметра user нет, имя недоступно
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", signing.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := signing.signIDToken(t, jwt.MapClaims{
		"iss":            appleIssuer,
		"aud":            "com.example.notes",
		"sub":            "001234.abcdef",
		"email":          "dev@privaterelay.appleid.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	identity, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken}, &CallbackData{})

	require.NoError(t, err)
	assert.True(t, identity.EmailVerified)
	assert.Regexp(t, `^apple_[0-9a-f]{8}_[0-9a-f]{4}$`, identity.SuggestedUsername)
	assert.Empty(t, identity.DisplayName)
}

func TestAppleAdapter_FetchIdentityRejectsWrongAudience(t *testing.T) {
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", signing.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := signing.signIDToken(t, jwt.MapClaims{
		"iss": appleIssuer,
		"aud": "com.evil.other-app",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken}, &CallbackData{})

	assert.ErrorIs(t, err, ErrIdentityTokenInvalid)
}

func TestAppleAdapter_FetchIdentityRejectsWrongIssuer(t *testing.T) {
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", signing.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := signing.signIDToken(t, jwt.MapClaims{
		"iss": "https://evil.example.com",
		"aud": "com.example.notes",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken}, &CallbackData{})

	assert.ErrorIs(t, err, ErrIdentityTokenInvalid)
}

func TestAppleAdapter_FetchIdentityRejectsExpiredToken(t *testing.T) {
	signing := newAppleSigningKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", signing.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := signing.signIDToken(t, jwt.MapClaims{
		"iss": appleIssuer,
		"aud": "com.example.notes",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken}, &CallbackData{})

	assert.ErrorIs(t, err, ErrIdentityTokenInvalid)
}

func TestAppleAdapter_FetchIdentityRejectsForeignKey(t *testing.T) {
	// id_token подписан ключом, которого нет в JWKS Apple
	trusted := newAppleSigningKey(t)
	foreign := newAppleSigningKey(t)
	foreign.kid = "foreign-key"

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", trusted.jwksHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAppleAdapter(server)
	idToken := foreign.signIDToken(t, jwt.MapClaims{
		"iss": appleIssuer,
		"aud": "com.example.notes",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := adapter.FetchIdentity(context.Background(), appleTestConfig(t),
		&ProviderToken{IDToken: idToken}, &CallbackData{})

	assert.ErrorIs(t, err, ErrIdentityTokenInvalid)
}
