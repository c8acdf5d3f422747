package repository

import "time"

// CacheRepository определяет методы для работы с кешем (Redis).
// OAuth-подсистема использует его для одноразового учета state-токенов.
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	// SetNX устанавливает значение ключа, только если ключ не существует.
	// Возвращает true, если ключ был установлен, false - если ключ уже существовал.
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
}
