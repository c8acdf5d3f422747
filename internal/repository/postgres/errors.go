package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolationCode - SQLSTATE для нарушения уникального ограничения
const uniqueViolationCode = "23505"

// IsUniqueViolation возвращает true, если ошибка вызвана нарушением
// уникального ограничения (гонка при одновременной вставке).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}
