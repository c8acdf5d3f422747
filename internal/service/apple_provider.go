package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/yourusername/notes-api/internal/config"
)

const (
	appleAuthorizeURL = "https://appleid.apple.com/auth/authorize"
	appleTokenURL     = "https://appleid.apple.com/auth/token"
	appleJWKSURL      = "https://appleid.apple.com/auth/keys"
	appleIssuer       = "https://appleid.apple.com"

	// appleClientSecretTTL - срок действия client_secret JWT.
	// Apple допускает до 6 месяцев, но секрет генерируется на каждый
	// обмен кода, поэтому короткого срока достаточно.
	appleClientSecretTTL = 10 * time.Minute

	// appleJWKSCacheTTL - срок кеширования ключей подписи Apple
	appleJWKSCacheTTL = 24 * time.Hour
)

// AppleAdapter реализует ProviderAdapter для Sign in with Apple (OIDC-поток).
// Профиль пользователя извлекается из id_token, отдельного API профиля у Apple нет.
type AppleAdapter struct {
	httpClient *http.Client

	// Переопределяются в тестах
	tokenURL string
	jwksURL  string
	issuer   string

	// Кеш публичных ключей Apple для проверки подписи id_token
	jwksMutex  sync.RWMutex
	jwksKeys   map[string]*rsa.PublicKey
	jwksExpiry time.Time
}

// NewAppleAdapter создает адаптер Apple с боевыми URL
func NewAppleAdapter() *AppleAdapter {
	return &AppleAdapter{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenURL:   appleTokenURL,
		jwksURL:    appleJWKSURL,
		issuer:     appleIssuer,
	}
}

func (a *AppleAdapter) Name() string {
	return "apple"
}

// CallbackMethod: Apple присылает callback POST-ом (response_mode=form_post),
// потому что в ответе передается form-параметр user
func (a *AppleAdapter) CallbackMethod() string {
	return http.MethodPost
}

func (a *AppleAdapter) ValidateConfig(cfg config.OAuthProviderConfig) error {
	if !cfg.Enabled {
		return ErrProviderDisabled
	}
	if cfg.ClientID == "" || cfg.TeamID == "" || cfg.KeyID == "" || cfg.PrivateKey == "" || cfg.CallbackURL == "" {
		return fmt.Errorf("%w: apple requires client_id, team_id, key_id, private_key and callback_url", ErrProviderMisconfigured)
	}
	return nil
}

func (a *AppleAdapter) BuildAuthorizeURL(cfg config.OAuthProviderConfig, state string) (string, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"name", "email"}
	}
	params := url.Values{}
	params.Set("client_id", cfg.ClientID)
	params.Set("redirect_uri", cfg.CallbackURL)
	params.Set("response_type", "code")
	params.Set("response_mode", "form_post")
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	return appleAuthorizeURL + "?" + params.Encode(), nil
}

// ExchangeCode обменивает авторизационный код на токены Apple.
// client_secret - это ES256 JWT, подписанный приватным ключом команды.
func (a *AppleAdapter) ExchangeCode(ctx context.Context, cfg config.OAuthProviderConfig, code string) (*ProviderToken, error) {
	clientSecret, err := a.generateClientSecret(cfg)
	if err != nil {
		log.Printf("[AppleAdapter] Ошибка генерации client_secret: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderMisconfigured, err)
	}

	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", cfg.CallbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		log.Printf("[AppleAdapter] Ошибка запроса обмена кода: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: invalid token response: %v", ErrExchangeFailed, err)
	}
	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		log.Printf("[AppleAdapter] Apple отклонил обмен кода: статус %d, ошибка %q", resp.StatusCode, tokenResp.Error)
		return nil, fmt.Errorf("%w: %s", ErrExchangeFailed, tokenResp.Error)
	}
	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("%w: response has no id_token", ErrExchangeFailed)
	}

	return &ProviderToken{
		AccessToken: tokenResp.AccessToken,
		TokenType:   "Bearer",
		IDToken:     tokenResp.IDToken,
	}, nil
}

// FetchIdentity проверяет id_token и собирает нормализованный профиль.
// Имя пользователя Apple присылает один-единственный раз - в form-параметре
// user при первой авторизации, дальше доступен только id_token.
func (a *AppleAdapter) FetchIdentity(ctx context.Context, cfg config.OAuthProviderConfig, token *ProviderToken, callback *CallbackData) (*ExternalIdentity, error) {
	claims, err := a.verifyIDToken(ctx, cfg, token.IDToken)
	if err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: id_token has no subject", ErrIdentityTokenInvalid)
	}
	email, _ := claims["email"].(string)
	emailVerified := parseBoolClaim(claims["email_verified"])

	displayName := ""
	if callback != nil && callback.RawUser != "" {
		var userData struct {
			Name struct {
				FirstName string `json:"firstName"`
				LastName  string `json:"lastName"`
			} `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal([]byte(callback.RawUser), &userData); err != nil {
			log.Printf("[AppleAdapter] Некорректный form-параметр user, игнорируем: %v", err)
		} else {
			displayName = strings.TrimSpace(userData.Name.FirstName + " " + userData.Name.LastName)
			if email == "" {
				email = userData.Email
			}
		}
	}

	// Apple не дает username - синтезируем его из имени либо из хеша subject.
	// Случайный суффикс снижает вероятность коллизии, окончательную
	// уникальность обеспечивает создание пользователя.
	suggested := sanitizeUsername(displayName)
	if suggested == "" {
		suggested = fmt.Sprintf("apple_%s_%s", hashPrefix(sub, 8), generateRandomHex(2))
	}

	return &ExternalIdentity{
		Provider:          a.Name(),
		ProviderID:        sub,
		Email:             email,
		EmailVerified:     emailVerified,
		SuggestedUsername: suggested,
		DisplayName:       displayName,
	}, nil
}

// generateClientSecret формирует ES256 JWT по требованиям Apple:
// kid в заголовке, iss=TeamID, sub=ClientID, aud=issuer Apple
func (a *AppleAdapter) generateClientSecret(cfg config.OAuthProviderConfig) (string, error) {
	block, _ := pem.Decode([]byte(cfg.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("private key is not valid PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not an EC key")
	}

	now := time.Now()
	// aud должен сериализоваться одиночной строкой, как требует Apple,
	// поэтому claims собираются вручную, а не через RegisteredClaims
	claims := jwt.MapClaims{
		"iss": cfg.TeamID,
		"sub": cfg.ClientID,
		"aud": appleIssuer,
		"iat": now.Unix(),
		"exp": now.Add(appleClientSecretTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = cfg.KeyID
	return token.SignedString(ecKey)
}

// verifyIDToken проверяет подпись id_token ключами Apple и обязательные claims
func (a *AppleAdapter) verifyIDToken(ctx context.Context, cfg config.OAuthProviderConfig, idToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	token, err := parser.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("id_token has no kid header")
		}
		return a.publicKey(ctx, kid)
	})
	if err != nil {
		log.Printf("[AppleAdapter] Проверка id_token не пройдена: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrIdentityTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrIdentityTokenInvalid
	}

	// Парсер проверяет подпись и сроки; издателя и аудиторию сверяем сами
	if !claims.VerifyIssuer(a.issuer, true) {
		log.Printf("[AppleAdapter] id_token выпущен чужим издателем")
		return nil, fmt.Errorf("%w: issuer mismatch", ErrIdentityTokenInvalid)
	}
	if !claims.VerifyAudience(cfg.ClientID, true) {
		log.Printf("[AppleAdapter] id_token адресован другому клиенту")
		return nil, fmt.Errorf("%w: audience mismatch", ErrIdentityTokenInvalid)
	}
	return claims, nil
}

// publicKey возвращает ключ подписи по kid, при необходимости обновляя кеш.
// Неизвестный kid принудительно сбрасывает кеш: Apple ротирует ключи.
func (a *AppleAdapter) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.jwksMutex.RLock()
	if time.Now().Before(a.jwksExpiry) {
		if key, ok := a.jwksKeys[kid]; ok {
			a.jwksMutex.RUnlock()
			return key, nil
		}
	}
	a.jwksMutex.RUnlock()

	if err := a.refreshJWKS(ctx); err != nil {
		return nil, err
	}

	a.jwksMutex.RLock()
	defer a.jwksMutex.RUnlock()
	key, ok := a.jwksKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key: %s", kid)
	}
	return key, nil
}

// refreshJWKS загружает и кеширует набор публичных ключей Apple
func (a *AppleAdapter) refreshJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build jwks request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			log.Printf("[AppleAdapter] Пропускаем ключ %s: некорректный modulus", k.Kid)
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			log.Printf("[AppleAdapter] Пропускаем ключ %s: некорректная экспонента", k.Kid)
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks response has no usable keys")
	}

	a.jwksMutex.Lock()
	a.jwksKeys = keys
	a.jwksExpiry = time.Now().Add(appleJWKSCacheTTL)
	a.jwksMutex.Unlock()
	log.Printf("[AppleAdapter] Кеш JWKS обновлен: %d ключей", len(keys))
	return nil
}

// parseBoolClaim разбирает claim, который Apple присылает то как bool,
// то как строку "true"/"false"
func parseBoolClaim(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
