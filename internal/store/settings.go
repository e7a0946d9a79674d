package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// GetSettings returns a merchant's stored settings with defaults applied,
// or ErrNotFound.
func (db *DB) GetSettings(ctx context.Context, owner string) (domain.MerchantSettings, error) {
	var data string
	err := db.sql.QueryRowContext(ctx, `SELECT data FROM merchant_settings WHERE owner = ?`, owner).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), ErrNotFound
	}
	if err != nil {
		return domain.DefaultSettings(), fmt.Errorf("querying settings: %w", err)
	}

	var s domain.MerchantSettings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return domain.DefaultSettings(), fmt.Errorf("decoding settings for %s: %w", owner, err)
	}
	return s.WithDefaults(), nil
}

// SaveSettings stores a merchant's settings.
func (db *DB) SaveSettings(ctx context.Context, owner string, s domain.MerchantSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO merchant_settings (owner, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		owner, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving settings for %s: %w", owner, err)
	}
	return nil
}

// Owners returns every merchant that has settings or catalog data.
func (db *DB) Owners(ctx context.Context) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT owner FROM merchant_settings
		 UNION SELECT owner FROM catalog_records
		 UNION SELECT owner FROM templates
		 ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("querying owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
