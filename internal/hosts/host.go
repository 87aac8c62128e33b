package hosts

import (
	"strings"
	"time"
)

const maxEmailLength = 320

// Host is an authenticated account that owns rooms.
type Host struct {
	HostID       string     `gorm:"column:host_id;primaryKey;size:190;not null"`
	Email        string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string     `gorm:"column:password_hash;size:100;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
}

// TableName exposes the table backing host accounts.
func (Host) TableName() string {
	return "hosts"
}

// normalizeEmail lowercases and trims an address so lookups are case-insensitive.
func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
