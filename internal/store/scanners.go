package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

// CreateScannerUser creates a scanner user with the given capabilities.
func CreateScannerUser(ctx context.Context, d *db.DB, username, passwordHash string, caps model.UserCapabilities, maxScanners int) (*model.ScannerUser, error) {
	var id int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`INSERT INTO scanner_users (username, password_hash, flags, max_scanners) VALUES (?, ?, ?, ?) RETURNING id`),
		username, passwordHash, caps.Bits(), maxScanners,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating scanner user: %w", err)
	}

	return getScannerUser(ctx, d, `id = ?`, id)
}

// GetScannerUserByUsername returns a scanner user, or nil if none exists.
func GetScannerUserByUsername(ctx context.Context, d *db.DB, username string) (*model.ScannerUser, error) {
	return getScannerUser(ctx, d, `username = ?`, username)
}

func getScannerUser(ctx context.Context, d *db.DB, where string, arg any) (*model.ScannerUser, error) {
	u := &model.ScannerUser{}
	var flags int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT id, username, password_hash, flags, max_scanners, disabled, created_at
		 FROM scanner_users WHERE `+where), arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &flags, &u.MaxScanners, &u.Disabled, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting scanner user: %w", err)
	}
	u.Capabilities = model.UserCapabilitiesFromBits(flags)
	return u, nil
}

// ListScannerUsers returns every scanner user ordered by ID.
func ListScannerUsers(ctx context.Context, d *db.DB) ([]model.ScannerUser, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, username, password_hash, flags, max_scanners, disabled, created_at
		 FROM scanner_users ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing scanner users: %w", err)
	}
	defer rows.Close()

	var users []model.ScannerUser
	for rows.Next() {
		var u model.ScannerUser
		var flags int64
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &flags, &u.MaxScanners, &u.Disabled, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning scanner user: %w", err)
		}
		u.Capabilities = model.UserCapabilitiesFromBits(flags)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetScannerUserDisabled enables or disables a scanner user.
func SetScannerUserDisabled(ctx context.Context, d *db.DB, id int64, disabled bool) error {
	_, err := d.ExecContext(ctx, d.Rebind(
		`UPDATE scanner_users SET disabled = ? WHERE id = ?`), boolInt(disabled), id)
	if err != nil {
		return fmt.Errorf("updating scanner user: %w", err)
	}
	return nil
}

const scannerSelect = `SELECT s.id, s.scanner_user_id, s.name, s.flags, s.last_scan, s.trader_last_scan, s.created_at,
        u.username, u.flags, u.disabled
 FROM scanners s
 JOIN scanner_users u ON u.id = s.scanner_user_id`

// CreateScanner registers a named scanner under a scanner user.
func CreateScanner(ctx context.Context, d *db.DB, userID int64, name string, createdAt time.Time) (*model.Scanner, error) {
	var id int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`INSERT INTO scanners (scanner_user_id, name, created_at) VALUES (?, ?, ?) RETURNING id`),
		userID, name, createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating scanner: %w", err)
	}
	return GetScanner(ctx, d, id)
}

// GetScanner returns a scanner by ID, or nil if none exists.
func GetScanner(ctx context.Context, d *db.DB, id int64) (*model.Scanner, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(scannerSelect+` WHERE s.id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("getting scanner: %w", err)
	}
	defer rows.Close()
	return firstScanner(rows)
}

// GetScannerByName returns a scanner by its unique name, or nil.
func GetScannerByName(ctx context.Context, d *db.DB, name string) (*model.Scanner, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(scannerSelect+` WHERE s.name = ?`), name)
	if err != nil {
		return nil, fmt.Errorf("getting scanner by name: %w", err)
	}
	defer rows.Close()
	return firstScanner(rows)
}

// CountScanners returns how many scanners a user has registered.
func CountScanners(ctx context.Context, d *db.DB, userID int64) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT COUNT(*) FROM scanners WHERE scanner_user_id = ?`), userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting scanners: %w", err)
	}
	return n, nil
}

// ListScanners returns every scanner joined with its owning user.
func ListScanners(ctx context.Context, d *db.DB) ([]model.Scanner, error) {
	rows, err := d.QueryContext(ctx, scannerSelect+` ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("listing scanners: %w", err)
	}
	defer rows.Close()

	var scanners []model.Scanner
	for rows.Next() {
		s, err := scanScanner(rows)
		if err != nil {
			return nil, err
		}
		scanners = append(scanners, *s)
	}
	return scanners, rows.Err()
}

// SetScannerFlags replaces a scanner's flags.
func SetScannerFlags(ctx context.Context, d *db.DB, id int64, flags model.ScannerFlags) error {
	_, err := d.ExecContext(ctx, d.Rebind(
		`UPDATE scanners SET flags = ? WHERE id = ?`), flags.Bits(), id)
	if err != nil {
		return fmt.Errorf("updating scanner flags: %w", err)
	}
	return nil
}

func firstScanner(rows *sql.Rows) (*model.Scanner, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanScanner(rows)
}

func scanScanner(rows *sql.Rows) (*model.Scanner, error) {
	var (
		s                    model.Scanner
		flags, userFlags     int64
		lastScan, traderScan sql.NullTime
	)
	if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &flags, &lastScan, &traderScan, &s.CreatedAt,
		&s.Username, &userFlags, &s.UserDisabled); err != nil {
		return nil, fmt.Errorf("scanning scanner: %w", err)
	}
	s.Flags = model.ScannerFlagsFromBits(flags)
	s.UserCapabilities = model.UserCapabilitiesFromBits(userFlags)
	s.LastScan = nullTime(lastScan)
	s.TraderLastScan = nullTime(traderScan)
	return &s, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
