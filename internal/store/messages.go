package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/domain"
)

// Append writes one message to the conversation log. Missing ids and
// timestamps are filled in.
func (db *DB) Append(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO messages (msg_id, owner, channel, counterparty, session_id, direction, content, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Owner, string(msg.Channel), msg.Counterparty, msg.SessionID,
		string(msg.Direction), msg.Content, string(msg.Source),
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages of one session window,
// oldest first. An empty sessionID reads across all windows.
func (db *DB) Recent(ctx context.Context, owner, counterparty, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT msg_id, owner, channel, counterparty, session_id, direction, content, source, created_at
		FROM messages WHERE owner = ? AND counterparty = ?`
	args := []any{owner, counterparty}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// newest-first from the query; callers want chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestSession returns the session id and time of the newest message
// exchanged with a counterparty, or ErrNotFound.
func (db *DB) LatestSession(ctx context.Context, owner, counterparty string) (string, time.Time, error) {
	var sessionID, createdAt string
	err := db.sql.QueryRowContext(ctx,
		`SELECT session_id, created_at FROM messages
		 WHERE owner = ? AND counterparty = ?
		 ORDER BY id DESC LIMIT 1`,
		owner, counterparty,
	).Scan(&sessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("querying latest session: %w", err)
	}
	at, _ := time.Parse(time.RFC3339Nano, createdAt)
	return sessionID, at, nil
}

// CountMessages returns how many messages a merchant has logged.
func (db *DB) CountMessages(ctx context.Context, owner string) (int, error) {
	var n int
	if err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE owner = ?`, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	var channel, dir, source, ts string
	if err := row.Scan(&m.ID, &m.Owner, &channel, &m.Counterparty, &m.SessionID, &dir, &m.Content, &source, &ts); err != nil {
		return m, fmt.Errorf("scanning message: %w", err)
	}
	m.Channel = domain.ChannelKind(channel)
	m.Direction = domain.Direction(dir)
	m.Source = domain.SourceTag(source)
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return m, nil
}
