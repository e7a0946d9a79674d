package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soyeahso/concierge/internal/domain"
)

// ListActiveTemplates returns a merchant's active menus in display order,
// buttons included.
func (db *DB) ListActiveTemplates(ctx context.Context, owner string) ([]domain.Template, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, owner, name, triggers, header, body, footer, active, position
		 FROM templates WHERE owner = ? AND active = 1
		 ORDER BY position, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}

	var templates []domain.Template
	for rows.Next() {
		var t domain.Template
		var triggers string
		if err := rows.Scan(&t.ID, &t.Owner, &t.Name, &triggers, &t.Header, &t.Body, &t.Footer, &t.Active, &t.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		if err := json.Unmarshal([]byte(triggers), &t.Triggers); err != nil {
			db.log.Warn().Err(err).Int64("template", t.ID).Msg("bad trigger list")
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	rows.Close()

	for i := range templates {
		buttons, err := db.listButtons(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
		templates[i].Buttons = buttons
	}
	return templates, nil
}

func (db *DB) listButtons(ctx context.Context, templateID int64) ([]domain.Button, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, parent_id, type, text, payload, position
		 FROM template_buttons WHERE template_id = ?
		 ORDER BY parent_id, position, id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("querying buttons: %w", err)
	}
	defer rows.Close()

	var buttons []domain.Button
	for rows.Next() {
		var b domain.Button
		var typ string
		if err := rows.Scan(&b.ID, &b.ParentID, &typ, &b.Text, &b.Payload, &b.Position); err != nil {
			return nil, fmt.Errorf("scanning button: %w", err)
		}
		b.Type = domain.ButtonType(typ)
		buttons = append(buttons, b)
	}
	return buttons, rows.Err()
}

// SaveTemplate validates the button tree and stores the template, replacing
// any template of the same name. It returns the stored id.
func (db *DB) SaveTemplate(ctx context.Context, owner string, t domain.Template) (int64, error) {
	if err := t.ValidateTree(); err != nil {
		return 0, err
	}
	triggers, err := json.Marshal(t.Triggers)
	if err != nil {
		return 0, fmt.Errorf("encoding triggers: %w", err)
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save template: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE owner = ? AND name = ?`, owner, t.Name); err != nil {
		return 0, fmt.Errorf("replacing template %q: %w", t.Name, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO templates (owner, name, triggers, header, body, footer, active, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, t.Name, string(triggers), t.Header, t.Body, t.Footer, t.Active, t.Position)
	if err != nil {
		return 0, fmt.Errorf("inserting template %q: %w", t.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("template id: %w", err)
	}

	for _, b := range t.Buttons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO template_buttons (template_id, id, parent_id, type, text, payload, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, b.ID, b.ParentID, string(b.Type), b.Text, b.Payload, b.Position); err != nil {
			return 0, fmt.Errorf("inserting button %d: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit template %q: %w", t.Name, err)
	}
	return id, nil
}
