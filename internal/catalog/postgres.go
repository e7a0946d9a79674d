package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// PostgresSource reads merchant catalogs from an existing Postgres
// database. It never writes.
//
// Expected tables:
//
//	dynamic_fields  (owner TEXT, name TEXT, type TEXT NULL, position INT)
//	dynamic_records (owner TEXT, id TEXT, position INT, data JSONB)
//
// data holds a flat {field name: value} object.
type PostgresSource struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, log *logging.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewPostgresSource(db, log), nil
}

// NewPostgresSource wraps an open connection pool.
func NewPostgresSource(db *sql.DB, log *logging.Logger) *PostgresSource {
	return &PostgresSource{db: db, log: log.Sub("catalog.postgres")}
}

// Close closes the connection pool.
func (p *PostgresSource) Close() error {
	return p.db.Close()
}

// ListFields returns the declared schema. Fields without a stored type
// are typed from the merchant's rows.
func (p *PostgresSource) ListFields(ctx context.Context, owner string) ([]domain.Field, error) {
	declared, err := p.declaredFields(ctx, owner)
	if err != nil {
		return nil, err
	}
	rows, err := p.rawRows(ctx, owner)
	if err != nil {
		return nil, err
	}
	raw := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		raw = append(raw, r.data)
	}
	return domain.InferSchema(declared, raw), nil
}

// ListRecords returns the merchant's rows typed against the schema.
func (p *PostgresSource) ListRecords(ctx context.Context, owner string) ([]domain.DynamicRecord, error) {
	declared, err := p.declaredFields(ctx, owner)
	if err != nil {
		return nil, err
	}
	rows, err := p.rawRows(ctx, owner)
	if err != nil {
		return nil, err
	}
	raw := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		raw = append(raw, r.data)
	}
	fields := domain.InferSchema(declared, raw)

	records := make([]domain.DynamicRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, domain.BuildRecord(r.id, r.position, fields, r.data))
	}
	return records, nil
}

func (p *PostgresSource) declaredFields(ctx context.Context, owner string) ([]domain.Field, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT name, COALESCE(type, ''), position FROM dynamic_fields
		 WHERE owner = $1 ORDER BY position, name`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying dynamic_fields: %w", err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var f domain.Field
		var typ string
		if err := rows.Scan(&f.Name, &typ, &f.Position); err != nil {
			return nil, fmt.Errorf("scanning dynamic_fields: %w", err)
		}
		f.Type = domain.FieldType(strings.ToLower(typ))
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

type rawRow struct {
	id       string
	position int
	data     map[string]string
}

func (p *PostgresSource) rawRows(ctx context.Context, owner string) ([]rawRow, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, position, data FROM dynamic_records
		 WHERE owner = $1 ORDER BY position, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying dynamic_records: %w", err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		var r rawRow
		var data []byte
		if err := rows.Scan(&r.id, &r.position, &data); err != nil {
			return nil, fmt.Errorf("scanning dynamic_records: %w", err)
		}
		values, err := decodeRow(data)
		if err != nil {
			p.log.Warn().Err(err).Str("owner", owner).Str("record", r.id).Msg("skipping undecodable row")
			continue
		}
		r.data = values
		out = append(out, r)
	}
	return out, rows.Err()
}

// decodeRow flattens a JSON object into strings so numbers and booleans
// are typed by the schema like any other cell.
func decodeRow(data []byte) (map[string]string, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = tv
		case float64, bool:
			out[k] = fmt.Sprint(tv)
		default:
			b, _ := json.Marshal(tv)
			out[k] = string(b)
		}
	}
	return out, nil
}
