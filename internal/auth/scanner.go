package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

var (
	// ErrBadCredentials covers unknown users and wrong passwords alike.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrDisabled is returned for users that are disabled or hold no
	// capabilities.
	ErrDisabled = errors.New("user disabled")
	// ErrScannerDenied is returned when a scanner name cannot be used.
	ErrScannerDenied = errors.New("scanner not allowed")
)

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckSharedSecret compares a presented secret against the configured one
// in constant time. An empty configured secret disables shared-secret login.
func CheckSharedSecret(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// AuthenticateScannerUser resolves a scanner user's credentials.
func AuthenticateScannerUser(ctx context.Context, d *db.DB, username, password string) (*model.ScannerUser, error) {
	if username == "" || password == "" {
		return nil, ErrBadCredentials
	}
	u, err := store.GetScannerUserByUsername(ctx, d, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !CheckPassword(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	if u.Disabled || !u.Capabilities.Any() {
		return nil, ErrDisabled
	}
	return u, nil
}

// ResolveScanner returns the scanner called name owned by u, registering it
// on first use within the user's scanner allowance.
func ResolveScanner(ctx context.Context, d *db.DB, u *model.ScannerUser, name string, now time.Time) (*model.Scanner, error) {
	if err := model.ValidateScannerName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScannerDenied, err)
	}

	s, err := store.GetScannerByName(ctx, d, name)
	if err != nil {
		return nil, err
	}
	if s != nil {
		if s.UserID != u.ID {
			return nil, fmt.Errorf("%w: scanner %s belongs to another user", ErrScannerDenied, name)
		}
		return s, nil
	}

	n, err := store.CountScanners(ctx, d, u.ID)
	if err != nil {
		return nil, err
	}
	if n >= u.MaxScanners {
		return nil, fmt.Errorf("%w: user %s already has %d of %d scanners", ErrScannerDenied, u.Username, n, u.MaxScanners)
	}
	return store.CreateScanner(ctx, d, u.ID, name, now)
}
