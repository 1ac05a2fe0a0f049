// Package repo holds the data-access layer. All mutation of conversations,
// messages and usage counters goes through these repositories.
package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isDuplicateKey reports whether err is a unique-constraint violation. The
// string checks cover drivers that are not wired through gorm's error
// translation (postgres says "duplicate key", sqlite says "UNIQUE constraint").
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
