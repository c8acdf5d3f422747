package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/notes-api/internal/config"
)

const (
	githubAuthorizeURL = "https://github.com/login/oauth/authorize"
	githubTokenURL     = "https://github.com/login/oauth/access_token"
	githubAPIBaseURL   = "https://api.github.com"

	// githubMaxAttempts - максимум попыток запроса к API при rate-limit ответах
	githubMaxAttempts = 3
	// githubMaxRetryAfter - верхняя граница ожидания из заголовка Retry-After
	githubMaxRetryAfter = 5 * time.Second
)

// GitHubAdapter реализует ProviderAdapter для GitHub OAuth (bearer-поток)
type GitHubAdapter struct {
	httpClient *http.Client

	// Переопределяются в тестах
	authorizeURL string
	tokenURL     string
	apiBaseURL   string
}

// NewGitHubAdapter создает адаптер GitHub с боевыми URL
func NewGitHubAdapter() *GitHubAdapter {
	return &GitHubAdapter{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		authorizeURL: githubAuthorizeURL,
		tokenURL:     githubTokenURL,
		apiBaseURL:   githubAPIBaseURL,
	}
}

func (a *GitHubAdapter) Name() string {
	return "github"
}

func (a *GitHubAdapter) CallbackMethod() string {
	return http.MethodGet
}

func (a *GitHubAdapter) ValidateConfig(cfg config.OAuthProviderConfig) error {
	if !cfg.Enabled {
		return ErrProviderDisabled
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.CallbackURL == "" {
		return fmt.Errorf("%w: github requires client_id, client_secret and callback_url", ErrProviderMisconfigured)
	}
	return nil
}

func (a *GitHubAdapter) BuildAuthorizeURL(cfg config.OAuthProviderConfig, state string) (string, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	params := url.Values{}
	params.Set("client_id", cfg.ClientID)
	params.Set("redirect_uri", cfg.CallbackURL)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	return a.authorizeURL + "?" + params.Encode(), nil
}

// ExchangeCode обменивает авторизационный код на access-токен GitHub
func (a *GitHubAdapter) ExchangeCode(ctx context.Context, cfg config.OAuthProviderConfig, code string) (*ProviderToken, error) {
	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", cfg.CallbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		log.Printf("[GitHubAdapter] Ошибка запроса обмена кода: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	// GitHub возвращает 200 даже при ошибке - смотрим тело
	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: invalid token response: %v", ErrExchangeFailed, err)
	}
	if tokenResp.Error != "" || tokenResp.AccessToken == "" {
		log.Printf("[GitHubAdapter] GitHub отклонил обмен кода: %s (%s)", tokenResp.Error, tokenResp.ErrorDescription)
		return nil, fmt.Errorf("%w: %s", ErrExchangeFailed, tokenResp.Error)
	}

	return &ProviderToken{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
	}, nil
}

// FetchIdentity получает профиль пользователя и его email через API GitHub
func (a *GitHubAdapter) FetchIdentity(ctx context.Context, cfg config.OAuthProviderConfig, token *ProviderToken, callback *CallbackData) (*ExternalIdentity, error) {
	body, status, err := a.apiGet(ctx, "/user", token.AccessToken)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		log.Printf("[GitHubAdapter] API /user вернул статус %d", status)
		return nil, fmt.Errorf("%w: user endpoint returned %d", ErrIdentityFetchFailed, status)
	}

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: invalid user response: %v", ErrIdentityFetchFailed, err)
	}
	if profile.ID == 0 {
		return nil, fmt.Errorf("%w: user response has no id", ErrIdentityFetchFailed)
	}

	email, verified := a.resolveEmail(ctx, token.AccessToken, profile.Email)

	return &ExternalIdentity{
		Provider:          a.Name(),
		ProviderID:        strconv.FormatInt(profile.ID, 10),
		Email:             email,
		EmailVerified:     verified,
		SuggestedUsername: profile.Login,
		DisplayName:       profile.Name,
		AvatarURL:         profile.AvatarURL,
	}, nil
}

// resolveEmail выбирает email через /user/emails: primary+verified, иначе
// первый verified. Если scope user:email не выдан (401/403/404), откатываемся
// на публичный email профиля - он считается неподтвержденным.
func (a *GitHubAdapter) resolveEmail(ctx context.Context, accessToken, profileEmail string) (string, bool) {
	body, status, err := a.apiGet(ctx, "/user/emails", accessToken)
	if err != nil || status != http.StatusOK {
		if err != nil {
			log.Printf("[GitHubAdapter] Запрос /user/emails не удался: %v", err)
		} else {
			log.Printf("[GitHubAdapter] /user/emails вернул статус %d, используем email из профиля", status)
		}
		return profileEmail, false
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		log.Printf("[GitHubAdapter] Некорректный ответ /user/emails: %v", err)
		return profileEmail, false
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	return profileEmail, false
}

// apiGet выполняет GET-запрос к API GitHub с повторами при rate-limit.
// GitHub сигнализирует лимит статусами 403/429 с заголовком Retry-After.
func (a *GitHubAdapter) apiGet(ctx context.Context, path, accessToken string) ([]byte, int, error) {
	var lastStatus int
	for attempt := 1; attempt <= githubMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBaseURL+path, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build api request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrIdentityFetchFailed, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrIdentityFetchFailed, readErr)
		}

		lastStatus = resp.StatusCode
		// 403 означает rate-limit только вместе с Retry-After; без него это
		// отказ в доступе (например, не выдан scope), повторять бессмысленно
		retryAfter := resp.Header.Get("Retry-After")
		rateLimited := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && retryAfter != "")
		if !rateLimited {
			return body, resp.StatusCode, nil
		}

		if attempt == githubMaxAttempts {
			break
		}
		delay := retryAfterDelay(retryAfter)
		log.Printf("[GitHubAdapter] Rate-limit от GitHub (%d) на %s, попытка %d/%d, ожидание %v",
			resp.StatusCode, path, attempt, githubMaxAttempts, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastStatus, ctx.Err()
		}
	}
	return nil, lastStatus, fmt.Errorf("%w: rate limited after %d attempts", ErrIdentityFetchFailed, githubMaxAttempts)
}

// retryAfterDelay разбирает заголовок Retry-After (секунды), ограничивая
// ожидание сверху, чтобы не держать callback-запрос подвисшим
func retryAfterDelay(header string) time.Duration {
	delay := time.Second
	if header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			delay = time.Duration(seconds) * time.Second
		}
	}
	if delay > githubMaxRetryAfter {
		delay = githubMaxRetryAfter
	}
	return delay
}
