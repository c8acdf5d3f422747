package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/notes-api/internal/config"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
	"github.com/yourusername/notes-api/internal/service"
	"github.com/yourusername/notes-api/pkg/auth"
	"github.com/yourusername/notes-api/pkg/auth/manager"
)

// ProviderConfigSource отдает конфигурацию провайдера по имени.
// Реализуется config.Config; интерфейс нужен для подмены в тестах.
type ProviderConfigSource interface {
	ProviderConfig(name string) (config.OAuthProviderConfig, bool)
}

// OAuthHandler - контроллер OAuth-потока: старт авторизации, callback,
// привязка/отвязка провайдеров и подтверждение слияния аккаунтов
type OAuthHandler struct {
	registry     *service.ProviderRegistry
	stateService *service.StateTokenService
	oauthService *service.OAuthService
	tokenManager *manager.TokenManager
	configs      ProviderConfigSource
	frontendURL  string
	iosScheme    string
}

// NewOAuthHandler создает контроллер OAuth-потока
func NewOAuthHandler(
	registry *service.ProviderRegistry,
	stateService *service.StateTokenService,
	oauthService *service.OAuthService,
	tokenManager *manager.TokenManager,
	configs ProviderConfigSource,
	frontendURL string,
	iosScheme string,
) *OAuthHandler {
	return &OAuthHandler{
		registry:     registry,
		stateService: stateService,
		oauthService: oauthService,
		tokenManager: tokenManager,
		configs:      configs,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		iosScheme:    iosScheme,
	}
}

// Authorize начинает поток входа: GET /auth/oauth/:provider
// Выпускает state-токен и отправляет пользователя на страницу провайдера.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	h.startFlow(c, service.StatePayload{
		RedirectURL: sanitizeRedirect(c.Query("redirect")),
		IOSLogin:    c.Query("type") == "ioslogin",
	})
}

// AuthorizeBind начинает поток привязки провайдера к текущему аккаунту:
// GET /auth/oauth/:provider/bind (требует аутентификации)
func (h *OAuthHandler) AuthorizeBind(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.startFlow(c, service.StatePayload{
		RedirectURL: sanitizeRedirect(c.Query("redirect")),
		BindMode:    true,
		UserID:      userID,
	})
}

func (h *OAuthHandler) startFlow(c *gin.Context, payload service.StatePayload) {
	providerName := c.Param("provider")
	adapter, cfg, err := h.provider(providerName)
	if err != nil {
		h.configError(c, providerName, err)
		return
	}

	payload.Provider = adapter.Name()
	state, err := h.stateService.Issue(payload)
	if err != nil {
		log.Printf("[OAuthHandler] Ошибка выпуска state-токена для %s: %v", providerName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	authorizeURL, err := adapter.BuildAuthorizeURL(cfg, state)
	if err != nil {
		log.Printf("[OAuthHandler] Ошибка построения authorize URL для %s: %v", providerName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback обрабатывает возврат от провайдера: GET или POST
// /auth/oauth/:provider/callback в зависимости от провайдера
func (h *OAuthHandler) Callback(c *gin.Context) {
	providerName := c.Param("provider")
	adapter, cfg, err := h.provider(providerName)
	if err != nil {
		// Поток уже идет через редиректы - ошибки уводим на фронтенд
		h.redirectError(c, "", err)
		return
	}

	if c.Request.Method != adapter.CallbackMethod() {
		log.Printf("[OAuthHandler] Callback %s пришел методом %s, ожидался %s",
			providerName, c.Request.Method, adapter.CallbackMethod())
		h.redirectError(c, "", service.ErrInvalidState)
		return
	}

	data := h.callbackData(c, adapter.CallbackMethod())

	// Отказ пользователя - не ошибка, отдельный исход для фронтенда
	if data.ErrorCode != "" {
		flowErr := service.ClassifyCallbackError(data.ErrorCode)
		if errors.Is(flowErr, service.ErrUserCancelled) {
			h.redirectCancelled(c)
			return
		}
		log.Printf("[OAuthHandler] Провайдер %s вернул ошибку: %s", providerName, data.ErrorCode)
		h.redirectError(c, "", flowErr)
		return
	}

	verified := h.stateService.Verify(data.State)
	if verified == nil || verified.Payload.Provider != adapter.Name() {
		h.redirectError(c, "", service.ErrInvalidState)
		return
	}
	if !h.stateService.Consume(verified) {
		h.redirectError(c, verified.Payload.RedirectURL, service.ErrInvalidState)
		return
	}
	state := verified.Payload

	if data.Code == "" {
		h.redirectError(c, state.RedirectURL, service.ErrExchangeFailed)
		return
	}

	token, err := adapter.ExchangeCode(c.Request.Context(), cfg, data.Code)
	if err != nil {
		h.redirectError(c, state.RedirectURL, err)
		return
	}
	identity, err := adapter.FetchIdentity(c.Request.Context(), cfg, token, data)
	if err != nil {
		h.redirectError(c, state.RedirectURL, err)
		return
	}

	result, err := h.oauthService.Resolve(identity, state)
	if err != nil {
		h.redirectError(c, state.RedirectURL, err)
		return
	}

	// Коллизия email: токены не выдаем, фронтенд показывает диалог слияния
	if result.Merge != nil {
		h.redirectMergeRequired(c, state.RedirectURL, result.Merge)
		return
	}

	tokens, err := h.tokenManager.GenerateTokenPair(result.User)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is temporarily unavailable"})
			return
		}
		log.Printf("[OAuthHandler] Ошибка выдачи токенов пользователю ID=%d: %v", result.User.ID, err)
		h.redirectError(c, state.RedirectURL, err)
		return
	}

	h.redirectSuccess(c, state, tokens)
}

// ConfirmMerge подтверждает слияние: POST /auth/oauth/:provider/bind/merge
// Тело содержит ключи, префиксованные провайдером: {existingUserId,
// githubUserId, githubUsername?}. Вызывающий должен быть аутентифицирован
// как владелец существующего аккаунта - контекст слияния прошел через
// redirect-URL и сам по себе полномочий не дает.
func (h *OAuthHandler) ConfirmMerge(c *gin.Context) {
	providerName := strings.ToLower(c.Param("provider"))
	callerID := c.GetUint("user_id")

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	existingUserID := uintField(body, "existingUserId")
	providerUserID := stringField(body, providerName+"UserId")
	providerUsername := stringField(body, providerName+"Username")
	if existingUserID == 0 || providerUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("existingUserId and %sUserId are required", providerName),
		})
		return
	}

	// Слияние меняет чужой аккаунт только в одном случае - когда это свой
	if callerID == 0 || callerID != existingUserID {
		log.Printf("[OAuthHandler] Отклонено слияние: вызывающий ID=%d, целевой аккаунт ID=%d", callerID, existingUserID)
		c.JSON(http.StatusForbidden, gin.H{"error": "merge must be confirmed by the account owner"})
		return
	}

	if _, err := h.registry.Get(providerName); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	user, err := h.oauthService.ConfirmMerge(callerID, providerName, providerUserID, providerUsername)
	if err != nil {
		h.jsonError(c, err)
		return
	}

	tokens, err := h.tokenManager.GenerateTokenPair(user)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is temporarily unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merged": true,
		"user":   user,
		"tokens": tokens,
	})
}

// Unbind отвязывает провайдера: DELETE /auth/oauth/:provider/bind
func (h *OAuthHandler) Unbind(c *gin.Context) {
	providerName := strings.ToLower(c.Param("provider"))
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.oauthService.Unbind(userID, providerName); err != nil {
		if errors.Is(err, service.ErrLastLoginMethod) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot remove the only login method"})
			return
		}
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unbound": true, "provider": providerName})
}

// Bindings возвращает привязки текущего пользователя: GET /auth/oauth/bindings
func (h *OAuthHandler) Bindings(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	bindings, err := h.oauthService.Bindings(userID)
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": bindings})
}

// provider возвращает адаптер и проверенную конфигурацию провайдера
func (h *OAuthHandler) provider(name string) (service.ProviderAdapter, config.OAuthProviderConfig, error) {
	adapter, err := h.registry.Get(name)
	if err != nil {
		return nil, config.OAuthProviderConfig{}, err
	}
	cfg, ok := h.configs.ProviderConfig(adapter.Name())
	if !ok {
		return nil, config.OAuthProviderConfig{}, service.ErrProviderNotFound
	}
	if err := adapter.ValidateConfig(cfg); err != nil {
		return nil, config.OAuthProviderConfig{}, err
	}
	return adapter, cfg, nil
}

// callbackData извлекает параметры callback из query (GET) или формы (POST)
func (h *OAuthHandler) callbackData(c *gin.Context, method string) *service.CallbackData {
	get := c.Query
	if method == http.MethodPost {
		get = c.PostForm
	}
	return &service.CallbackData{
		Code:      get("code"),
		State:     get("state"),
		ErrorCode: get("error"),
		RawUser:   get("user"),
	}
}

// configError отдает ошибки конфигурации до начала редиректов
func (h *OAuthHandler) configError(c *gin.Context, providerName string, err error) {
	switch {
	case errors.Is(err, service.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	case errors.Is(err, service.ErrProviderDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("%s login is disabled", providerName)})
	case errors.Is(err, service.ErrProviderMisconfigured):
		log.Printf("[OAuthHandler] Провайдер %s неверно сконфигурирован: %v", providerName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provider is misconfigured"})
	default:
		log.Printf("[OAuthHandler] Ошибка провайдера %s: %v", providerName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization failed"})
	}
}

// redirectSuccess отправляет токены на фронтенд или в нативное приложение.
// Канал доставки выбирается ТОЛЬКО по подписанному state, не по query-параметрам.
func (h *OAuthHandler) redirectSuccess(c *gin.Context, state service.StatePayload, tokens *manager.TokenResponse) {
	params := url.Values{}
	params.Set("token", tokens.AccessToken)
	params.Set("refreshToken", tokens.RefreshToken)

	if state.IOSLogin && h.iosScheme != "" {
		c.Redirect(http.StatusFound, h.iosScheme+"://callback?"+params.Encode())
		return
	}

	params.Set("oauth", "success")
	c.Redirect(http.StatusFound, appendQuery(h.frontendTarget(state.RedirectURL), params))
}

func (h *OAuthHandler) redirectCancelled(c *gin.Context) {
	params := url.Values{}
	params.Set("oauth", "cancelled")
	c.Redirect(http.StatusFound, appendQuery(h.frontendTarget(""), params))
}

// redirectMergeRequired передает фронтенду контекст слияния.
// Ключи идентификаторов префиксуются именем провайдера
// (githubUserId, appleUserId) - фронтенд различает диалоги по ним.
func (h *OAuthHandler) redirectMergeRequired(c *gin.Context, redirectURL string, merge *service.MergeContext) {
	params := url.Values{}
	params.Set("oauth", "bind")
	params.Set("bind", "merge_required")
	params.Set("provider", merge.Provider)
	params.Set("existingUserId", fmt.Sprintf("%d", merge.ExistingUserID))
	params.Set("existingUsername", merge.ExistingUsername)
	params.Set("existingEmail", merge.ExistingEmail)
	params.Set(merge.Provider+"UserId", merge.ProviderUserID)
	params.Set(merge.Provider+"Username", merge.ProviderUsername)
	c.Redirect(http.StatusFound, appendQuery(h.frontendTarget(redirectURL), params))
}

// redirectError уводит пользователя на фронтенд с безопасным сообщением
func (h *OAuthHandler) redirectError(c *gin.Context, redirectURL string, err error) {
	params := url.Values{}
	params.Set("oauth", "error")
	params.Set("message", safeErrorMessage(err))
	c.Redirect(http.StatusFound, appendQuery(h.frontendTarget(redirectURL), params))
}

// appendQuery присоединяет параметры, учитывая query в самом пути редиректа
func appendQuery(target string, params url.Values) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}

// frontendTarget собирает конечный URL редиректа из доверенного базового
// адреса фронтенда и проверенного относительного пути
func (h *OAuthHandler) frontendTarget(redirectURL string) string {
	path := sanitizeRedirect(redirectURL)
	if path == "" {
		path = "/login"
	}
	return h.frontendURL + path
}

func (h *OAuthHandler) jsonError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrIdentityAlreadyLinked):
		c.JSON(http.StatusConflict, gin.H{"error": "this account is already linked to another user"})
	default:
		log.Printf("[OAuthHandler] Внутренняя ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// safeErrorMessage отображает ошибки в allow-list сообщений для фронтенда.
// Тексты исходных ошибок наружу не уходят - они могут содержать детали
// инфраструктуры или ответы провайдера.
func safeErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidState):
		return "login session expired, please try again"
	case errors.Is(err, service.ErrIdentityAlreadyLinked):
		return "this account is already linked to another user"
	case errors.Is(err, service.ErrProviderDisabled):
		return "this login method is disabled"
	default:
		return "authentication failed"
	}
}

// uintField извлекает числовое поле из разобранного JSON-тела
func uintField(body map[string]interface{}, key string) uint {
	switch v := body[key].(type) {
	case float64:
		if v > 0 {
			return uint(v)
		}
	case string:
		var parsed uint
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func stringField(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

// sanitizeRedirect пропускает только относительные пути внутри фронтенда.
// Абсолютные URL, протокол-относительные ("//evil.com") и пустые значения
// отбрасываются - это защита от open redirect.
func sanitizeRedirect(redirect string) string {
	if redirect == "" {
		return ""
	}
	if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
		return ""
	}
	if strings.ContainsAny(redirect, "\\\r\n") {
		return ""
	}
	return redirect
}
