package model

import (
	"errors"
	"time"
)

// Operator is a person allowed to observe the fleet and push commands to
// scanners through the operator API.
type Operator struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Operator roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// MinPasswordLength is the shortest password accepted for operators and
// scanner users.
const MinPasswordLength = 8

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleAdmin:  2,
		RoleViewer: 1,
	}
	return levels[role] > 0 && levels[role] >= levels[minimum]
}

// ValidRole reports whether role is a known operator role.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleViewer
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
