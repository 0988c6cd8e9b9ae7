package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// TriggerRepository stores trigger definitions as JSONB documents with the
// hot columns (priority, active, last fire) extracted for querying.
type TriggerRepository struct {
	db *sql.DB
}

func (r *TriggerRepository) Triggers(ctx context.Context) ([]*models.Trigger, error) {
	return r.query(ctx, "SELECT doc FROM triggers ORDER BY priority, id")
}

func (r *TriggerRepository) ActiveTriggers(ctx context.Context) ([]*models.Trigger, error) {
	return r.query(ctx, "SELECT doc FROM triggers WHERE active = true ORDER BY priority, id")
}

func (r *TriggerRepository) query(ctx context.Context, querySQL string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var triggers []*models.Trigger

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}

		var trigger models.Trigger
		if err := json.Unmarshal(doc, &trigger); err != nil {
			return nil, fmt.Errorf("failed to decode trigger document: %w", err)
		}

		triggers = append(triggers, &trigger)
	}

	return triggers, rows.Err()
}

func (r *TriggerRepository) TriggerByID(ctx context.Context, id string) (*models.Trigger, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT doc FROM triggers WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query trigger %s: %w", id, err)
	}

	var trigger models.Trigger
	if err := json.Unmarshal(doc, &trigger); err != nil {
		return nil, fmt.Errorf("failed to decode trigger document: %w", err)
	}

	return &trigger, nil
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	doc, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO triggers (id, name, priority, active, last_fired_at, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			last_fired_at = EXCLUDED.last_fired_at,
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, trigger.ID, trigger.Name, trigger.Priority, trigger.Active, trigger.LastFiredAt, doc,
		trigger.CreatedAt, trigger.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) DeactivateTrigger(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE triggers
		SET active = false,
			doc = jsonb_set(doc, '{active}', 'false'),
			updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate trigger %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivation of trigger %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}
