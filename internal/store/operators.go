package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

const operatorColumns = `id, username, password_hash, role, created_at, deleted_at`

// CreateOperator creates a new operator.
func CreateOperator(ctx context.Context, d *db.DB, username, passwordHash, role string) (*model.Operator, error) {
	var id int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`INSERT INTO operators (username, password_hash, role) VALUES (?, ?, ?) RETURNING id`),
		username, passwordHash, role,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating operator: %w", err)
	}

	return GetOperator(ctx, d, id)
}

// GetOperator returns an operator by ID.
func GetOperator(ctx context.Context, d *db.DB, id int64) (*model.Operator, error) {
	o, err := scanOperator(d.QueryRowContext(ctx, d.Rebind(
		`SELECT `+operatorColumns+` FROM operators WHERE id = ?`), id))
	if err != nil {
		return nil, fmt.Errorf("getting operator: %w", err)
	}
	return o, nil
}

// GetOperatorByUsername returns the active operator with the given username.
func GetOperatorByUsername(ctx context.Context, d *db.DB, username string) (*model.Operator, error) {
	o, err := scanOperator(d.QueryRowContext(ctx, d.Rebind(
		`SELECT `+operatorColumns+` FROM operators WHERE username = ? AND deleted_at IS NULL`), username))
	if err != nil {
		return nil, fmt.Errorf("getting operator by username: %w", err)
	}
	return o, nil
}

// ListOperators returns all non-deleted operators.
func ListOperators(ctx context.Context, d *db.DB) ([]model.Operator, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT `+operatorColumns+` FROM operators WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	defer rows.Close()

	var ops []model.Operator
	for rows.Next() {
		var o model.Operator
		if err := rows.Scan(&o.ID, &o.Username, &o.PasswordHash, &o.Role, &o.CreatedAt, &o.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning operator: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// UpdateOperatorPassword updates an operator's password hash.
func UpdateOperatorPassword(ctx context.Context, d *db.DB, id int64, passwordHash string) error {
	_, err := d.ExecContext(ctx, d.Rebind(
		`UPDATE operators SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`),
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating operator password: %w", err)
	}
	return nil
}

// DeleteOperator soft-deletes an operator.
func DeleteOperator(ctx context.Context, d *db.DB, id int64) error {
	_, err := d.ExecContext(ctx, d.Rebind(
		`UPDATE operators SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`),
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting operator: %w", err)
	}
	return nil
}

func scanOperator(row *sql.Row) (*model.Operator, error) {
	o := &model.Operator{}
	err := row.Scan(&o.ID, &o.Username, &o.PasswordHash, &o.Role, &o.CreatedAt, &o.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}
