package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// singletonID is the only row id the last_known_address table accepts.
const singletonID = 1

type AddressRepo struct {
	db *DB
}

func NewAddressRepo(db *DB) *AddressRepo {
	return &AddressRepo{db: db}
}

func (r *AddressRepo) Load(ctx context.Context) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var addr string
	err := r.db.QueryRowContext(ctx,
		`SELECT address FROM last_known_address WHERE id = $1`, singletonID,
	).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load last known address: %w", err)
	}
	return addr, true, nil
}

func (r *AddressRepo) Save(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO last_known_address (id, address, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET address = EXCLUDED.address, updated_at = now()
	`, singletonID, addr); err != nil {
		return fmt.Errorf("save last known address: %w", err)
	}
	return nil
}

func (r *AddressRepo) Close() error {
	return r.db.Close()
}
