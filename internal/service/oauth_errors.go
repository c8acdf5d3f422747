package service

import "errors"

// Ошибки OAuth-потока.
// Тексты безопасны для проброса наружу, если обработчик явно разрешает их
// через allow-list; всё остальное наружу уходит обезличенным.
var (
	// ErrProviderNotFound - запрошенный провайдер не зарегистрирован
	ErrProviderNotFound = errors.New("oauth_provider_not_found")

	// ErrProviderDisabled - провайдер выключен в конфигурации
	ErrProviderDisabled = errors.New("oauth_provider_disabled")

	// ErrProviderMisconfigured - в конфигурации провайдера не хватает обязательных полей
	ErrProviderMisconfigured = errors.New("oauth_provider_misconfigured")

	// ErrUserCancelled - пользователь отказал в авторизации на стороне провайдера
	ErrUserCancelled = errors.New("oauth_user_cancelled")

	// ErrInvalidState - state-токен отсутствует, подделан, истёк или уже использован
	ErrInvalidState = errors.New("oauth_invalid_state")

	// ErrExchangeFailed - провайдер не обменял код на токен
	ErrExchangeFailed = errors.New("oauth_code_exchange_failed")

	// ErrIdentityTokenInvalid - id_token провайдера не прошел проверку подписи или claims
	ErrIdentityTokenInvalid = errors.New("oauth_identity_token_invalid")

	// ErrIdentityFetchFailed - не удалось получить профиль пользователя у провайдера
	ErrIdentityFetchFailed = errors.New("oauth_identity_fetch_failed")

	// ErrIdentityAlreadyLinked - внешняя учетная запись уже привязана к другому пользователю
	ErrIdentityAlreadyLinked = errors.New("oauth_identity_already_linked")

	// ErrLastLoginMethod - нельзя отвязать единственный способ входа в аккаунт
	ErrLastLoginMethod = errors.New("oauth_last_login_method")
)
