package service

import (
	"errors"
	"fmt"
	"log"

	"github.com/yourusername/notes-api/internal/domain/entity"
	"github.com/yourusername/notes-api/internal/domain/repository"
	apperrors "github.com/yourusername/notes-api/internal/pkg/errors"
)

const (
	// maxCreateAttempts ограничивает повторы создания пользователя
	// при коллизиях username (суффикс перегенерируется на каждой попытке)
	maxCreateAttempts = 5
	// minUsernameLen и maxUsernameLen - границы длины username в системе
	minUsernameLen = 3
	maxUsernameLen = 42
)

// MergeContext описывает обнаруженную коллизию email: внешняя учетная запись
// может быть присоединена к существующему аккаунту после подтверждения.
// Поля уходят на фронтенд в redirect-параметрах.
type MergeContext struct {
	ExistingUserID   uint   `json:"existingUserId"`
	ExistingUsername string `json:"existingUsername"`
	ExistingEmail    string `json:"existingEmail"`
	Provider         string `json:"provider"`
	ProviderUserID   string `json:"providerUserId"`
	ProviderUsername string `json:"providerUsername"`
}

// ResolveResult - исход сопоставления внешней личности с локальным аккаунтом
type ResolveResult struct {
	User *entity.User
	// Created: аккаунт был создан в этом запросе
	Created bool
	// Bound: к существующему аккаунту добавлена новая привязка
	Bound bool
	// Merge != nil: нужно подтверждение слияния, токены не выдаются
	Merge *MergeContext
}

// OAuthService сопоставляет внешние личности с локальными аккаунтами:
// вход, создание, привязка, слияние и отвязка. Выдачей токенов занимается
// TokenManager - сюда он не входит намеренно.
type OAuthService struct {
	userRepo    repository.UserRepository
	bindingRepo repository.OAuthBindingRepository
}

// NewOAuthService создает сервис сопоставления OAuth-личностей
func NewOAuthService(
	userRepo repository.UserRepository,
	bindingRepo repository.OAuthBindingRepository,
) (*OAuthService, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("UserRepository is required for OAuthService")
	}
	if bindingRepo == nil {
		return nil, fmt.Errorf("OAuthBindingRepository is required for OAuthService")
	}
	return &OAuthService{userRepo: userRepo, bindingRepo: bindingRepo}, nil
}

// Resolve принимает проверенную внешнюю личность и контекст потока
// и решает, что делать: впустить владельца, привязать к текущему аккаунту,
// запросить слияние или создать нового пользователя.
func (s *OAuthService) Resolve(identity *ExternalIdentity, state StatePayload) (*ResolveResult, error) {
	// 1. Ищем владельца внешней личности: сначала среди основных
	// идентификаторов пользователей, затем среди привязок
	owner, err := s.findIdentityOwner(identity.Provider, identity.ProviderID)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		if state.BindMode && state.UserID != owner.ID {
			log.Printf("[OAuthService] Попытка привязать %s:%s к пользователю ID=%d, но личность принадлежит ID=%d",
				identity.Provider, identity.ProviderID, state.UserID, owner.ID)
			return nil, ErrIdentityAlreadyLinked
		}
		return &ResolveResult{User: owner}, nil
	}

	// 2. Режим привязки: личность свободна, присоединяем к текущему аккаунту
	if state.BindMode {
		return s.bindToUser(identity, state.UserID)
	}

	// 3. Вход: подтвержденный email, совпадающий с существующим аккаунтом, -
	// повод предложить слияние вместо создания дубликата
	if identity.Email != "" && identity.EmailVerified {
		existing, err := s.userRepo.GetByEmail(identity.Email)
		if err == nil {
			return &ResolveResult{Merge: s.mergeContext(existing, identity)}, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	// 4. Личность никому не известна - создаем аккаунт
	return s.createUser(identity)
}

// ConfirmMerge присоединяет внешнюю личность к существующему аккаунту.
// Подлинность подтверждения гарантирует обработчик: вызывающий уже
// аутентифицирован как владелец целевого аккаунта. Присоединить можно
// только свободную или осиротевшую личность - увести привязку у живого
// владельца через слияние нельзя.
func (s *OAuthService) ConfirmMerge(userID uint, provider, providerID, providerUsername string) (*entity.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if provider == "" || providerID == "" {
		return nil, apperrors.ErrValidation
	}

	owner, err := s.findIdentityOwner(provider, providerID)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != user.ID {
		log.Printf("[OAuthService] Отклонено слияние: личность %s:%s принадлежит пользователю ID=%d, а не ID=%d",
			provider, providerID, owner.ID, user.ID)
		return nil, ErrIdentityAlreadyLinked
	}

	binding, err := s.bindingRepo.Reassign(user.ID, provider, providerID, providerUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to merge provider identity: %w", err)
	}
	log.Printf("[OAuthService] Личность %s:%s присоединена к пользователю ID=%d (binding ID=%d)",
		provider, providerID, user.ID, binding.ID)
	return user, nil
}

// Unbind отвязывает провайдера от аккаунта. Отвязать единственный способ
// входа нельзя - аккаунт станет недоступен.
func (s *OAuthService) Unbind(userID uint, provider string) error {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}

	err = s.bindingRepo.DeleteByUserAndProvider(userID, provider)
	if err == nil {
		log.Printf("[OAuthService] Привязка %s удалена у пользователя ID=%d", provider, userID)
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	// Привязки в таблице нет; возможно, это основной провайдер аккаунта
	if user.AuthProvider != provider {
		return apperrors.ErrNotFound
	}
	bindings, err := s.bindingRepo.ListByUser(userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() && len(bindings) == 0 {
		return ErrLastLoginMethod
	}
	if err := s.userRepo.UpdateProfile(userID, map[string]interface{}{
		"auth_provider":    "",
		"auth_provider_id": "",
	}); err != nil {
		return err
	}
	log.Printf("[OAuthService] Основной провайдер %s сброшен у пользователя ID=%d", provider, userID)
	return nil
}

// Bindings возвращает список привязок провайдеров пользователя
func (s *OAuthService) Bindings(userID uint) ([]entity.OAuthBinding, error) {
	return s.bindingRepo.ListByUser(userID)
}

// findIdentityOwner ищет аккаунт, владеющий внешней личностью.
// nil без ошибки означает, что личность свободна.
func (s *OAuthService) findIdentityOwner(provider, providerID string) (*entity.User, error) {
	user, err := s.userRepo.GetByProviderIdentity(provider, providerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	binding, err := s.bindingRepo.GetByProviderIdentity(provider, providerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	owner, err := s.userRepo.GetByID(binding.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Осиротевшая привязка: владельца удалили. Личность считается свободной.
			log.Printf("[OAuthService] Привязка %s:%s ссылается на несуществующего пользователя ID=%d",
				provider, providerID, binding.UserID)
			return nil, nil
		}
		return nil, err
	}
	return owner, nil
}

// bindToUser присоединяет свободную личность к аккаунту userID
func (s *OAuthService) bindToUser(identity *ExternalIdentity, userID uint) (*ResolveResult, error) {
	current, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}

	// Email внешней личности совпал с чужим аккаунтом - предлагаем слияние
	if identity.Email != "" {
		other, err := s.userRepo.GetByEmail(identity.Email)
		if err == nil && other.ID != current.ID {
			return &ResolveResult{User: current, Merge: s.mergeContext(other, identity)}, nil
		}
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	err = s.bindingRepo.Create(&entity.OAuthBinding{
		UserID:           current.ID,
		Provider:         identity.Provider,
		ProviderID:       identity.ProviderID,
		ProviderUsername: identity.SuggestedUsername,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Гонка: личность привязали параллельным запросом. Перечитываем владельца.
			owner, lookupErr := s.findIdentityOwner(identity.Provider, identity.ProviderID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if owner != nil && owner.ID == current.ID {
				return &ResolveResult{User: current, Bound: true}, nil
			}
			return nil, ErrIdentityAlreadyLinked
		}
		return nil, err
	}
	log.Printf("[OAuthService] Привязка %s:%s создана для пользователя ID=%d",
		identity.Provider, identity.ProviderID, current.ID)
	return &ResolveResult{User: current, Bound: true}, nil
}

// createUser создает аккаунт по внешней личности. Коллизия уникальных
// полей означает либо проигранную гонку за ту же личность (возвращаем
// победителя), либо занятый username (пробуем с новым суффиксом).
func (s *OAuthService) createUser(identity *ExternalIdentity) (*ResolveResult, error) {
	username, err := s.generateUniqueUsername(identity)
	if err != nil {
		return nil, err
	}

	email := identity.Email
	if email == "" {
		// Placeholder, совместимый с NOT NULL UNIQUE: писем на него никто не шлет
		email = fmt.Sprintf("%s-%s@%s.local", identity.Provider, identity.ProviderID, identity.Provider)
	}
	nickname := identity.DisplayName
	if nickname == "" {
		nickname = username
	}

	user := &entity.User{
		Username:            username,
		Email:               email,
		PasswordAuthEnabled: false,
		Nickname:            nickname,
		Avatar:              identity.AvatarURL,
		AuthProvider:        identity.Provider,
		AuthProviderID:      identity.ProviderID,
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		err := s.userRepo.Create(user)
		if err == nil {
			log.Printf("[OAuthService] Создан пользователь ID=%d (%s) через %s",
				user.ID, user.Username, identity.Provider)
			return &ResolveResult{User: user, Created: true}, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}

		owner, lookupErr := s.findIdentityOwner(identity.Provider, identity.ProviderID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if owner != nil {
			log.Printf("[OAuthService] Гонка создания для %s:%s, вход в существующий аккаунт ID=%d",
				identity.Provider, identity.ProviderID, owner.ID)
			return &ResolveResult{User: owner}, nil
		}

		// Занят username или email - меняем username и повторяем
		user.ID = 0
		user.Username = truncateUsername(baseUsername(identity)) + "_" + generateRandomHex(3)
		log.Printf("[OAuthService] Коллизия при создании пользователя (попытка %d/%d), новый username: %s",
			attempt, maxCreateAttempts, user.Username)
	}
	return nil, fmt.Errorf("failed to create user after %d attempts", maxCreateAttempts)
}

// generateUniqueUsername подбирает свободный username: сначала предложенный
// провайдером, затем со случайными суффиксами
func (s *OAuthService) generateUniqueUsername(identity *ExternalIdentity) (string, error) {
	base := truncateUsername(baseUsername(identity))

	if free, err := s.usernameFree(base); err != nil {
		return "", err
	} else if free {
		return base, nil
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		candidate := base + "_" + generateRandomHex(3)
		free, err := s.usernameFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique username for %s:%s", identity.Provider, identity.ProviderID)
}

func (s *OAuthService) usernameFree(username string) (bool, error) {
	_, err := s.userRepo.GetByUsername(username)
	if errors.Is(err, apperrors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *OAuthService) mergeContext(existing *entity.User, identity *ExternalIdentity) *MergeContext {
	return &MergeContext{
		ExistingUserID:   existing.ID,
		ExistingUsername: existing.Username,
		ExistingEmail:    existing.Email,
		Provider:         identity.Provider,
		ProviderUserID:   identity.ProviderID,
		ProviderUsername: identity.SuggestedUsername,
	}
}

// baseUsername выбирает основу для username из данных внешней личности
func baseUsername(identity *ExternalIdentity) string {
	base := sanitizeUsername(identity.SuggestedUsername)
	if base == "" {
		base = identity.Provider + "_" + hashPrefix(identity.ProviderID, 8)
	}
	if len(base) < minUsernameLen {
		base = identity.Provider + "_" + base
	}
	return base
}

func truncateUsername(username string) string {
	if len(username) > maxUsernameLen {
		return username[:maxUsernameLen]
	}
	return username
}
