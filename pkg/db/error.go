package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Unique-violation fragments per dialect. gorm translates these to
// ErrDuplicatedKey only when TranslateError is enabled, so match the raw
// driver messages as well.
var duplicateKeyFragments = []string{
	"duplicate key value violates unique constraint", // postgres 23505
	"Error 1062",                // mysql
	"UNIQUE constraint failed",  // sqlite 2067
	"constraint failed: UNIQUE", // glebarez sqlite
}

// IsDuplicateKeyErr reports whether err is a unique-constraint violation.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	for _, fragment := range duplicateKeyFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// SupportsSkipLocked reports whether the connected dialect understands
// FOR UPDATE SKIP LOCKED. SQLite serializes writers, so plain selects are safe
// there.
func SupportsSkipLocked(conn *gorm.DB) bool {
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
