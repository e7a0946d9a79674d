package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soyeahso/concierge/internal/domain"
)

// ListFields returns a merchant's catalog schema in display order.
func (db *DB) ListFields(ctx context.Context, owner string) ([]domain.Field, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT name, type, position FROM catalog_fields
		 WHERE owner = ? ORDER BY position, name`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying fields: %w", err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var f domain.Field
		var typ string
		if err := rows.Scan(&f.Name, &typ, &f.Position); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		f.Type = domain.FieldType(typ)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// ListRecords returns a merchant's catalog records in display order.
func (db *DB) ListRecords(ctx context.Context, owner string) ([]domain.DynamicRecord, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, position, data FROM catalog_records
		 WHERE owner = ? ORDER BY position, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []domain.DynamicRecord
	for rows.Next() {
		var rec domain.DynamicRecord
		var data string
		if err := rows.Scan(&rec.ID, &rec.Position, &data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Values); err != nil {
			db.log.Warn().Err(err).Str("owner", owner).Str("record", rec.ID).Msg("skipping undecodable record")
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PutField inserts or replaces one schema field.
func (db *DB) PutField(ctx context.Context, owner string, f domain.Field) error {
	if f.Type == "" {
		f.Type = domain.FieldText
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO catalog_fields (owner, name, type, position) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner, name) DO UPDATE SET type = excluded.type, position = excluded.position`,
		owner, f.Name, string(f.Type), f.Position)
	if err != nil {
		return fmt.Errorf("saving field %q: %w", f.Name, err)
	}
	return nil
}

// PutRecord inserts or replaces one catalog record.
func (db *DB) PutRecord(ctx context.Context, owner string, rec domain.DynamicRecord) error {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encoding record %q: %w", rec.ID, err)
	}
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO catalog_records (owner, id, position, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner, id) DO UPDATE SET position = excluded.position, data = excluded.data`,
		owner, rec.ID, rec.Position, string(data))
	if err != nil {
		return fmt.Errorf("saving record %q: %w", rec.ID, err)
	}
	return nil
}

// ClearCatalog removes every field and record of a merchant.
func (db *DB) ClearCatalog(ctx context.Context, owner string) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear catalog: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_records WHERE owner = ?`, owner); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_fields WHERE owner = ?`, owner); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing fields: %w", err)
	}
	return tx.Commit()
}
