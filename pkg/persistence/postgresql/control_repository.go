package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// ControlRepository stores control states and the append-only mode history.
type ControlRepository struct {
	db *sql.DB
}

func (r *ControlRepository) ControlState(ctx context.Context, scope string) (*models.ControlState, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx,
		"SELECT doc FROM control_states WHERE scope = $1", scope).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrControlStateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query control state %s: %w", scope, err)
	}

	var state models.ControlState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("failed to decode control state document: %w", err)
	}

	return &state, nil
}

func (r *ControlRepository) ControlStates(ctx context.Context) ([]*models.ControlState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT doc FROM control_states ORDER BY scope")
	if err != nil {
		return nil, fmt.Errorf("failed to query control states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []*models.ControlState

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan control state row: %w", err)
		}

		var state models.ControlState
		if err := json.Unmarshal(doc, &state); err != nil {
			return nil, fmt.Errorf("failed to decode control state document: %w", err)
		}

		states = append(states, &state)
	}

	return states, rows.Err()
}

func (r *ControlRepository) SaveControlState(ctx context.Context, state *models.ControlState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode control state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO control_states (scope, mode, timer_expires_at, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope) DO UPDATE SET
			mode = EXCLUDED.mode,
			timer_expires_at = EXCLUDED.timer_expires_at,
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, state.Scope, state.Mode, state.TimerExpiresAt, doc, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save control state %s: %w", state.Scope, err)
	}

	return nil
}

func (r *ControlRepository) AppendControlHistory(ctx context.Context, entry *models.ControlHistoryEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode control history entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO control_history (id, scope, doc, changed_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.Scope, doc, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append control history for %s: %w", entry.Scope, err)
	}

	return nil
}

func (r *ControlRepository) ControlHistory(ctx context.Context, scope string) ([]*models.ControlHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc FROM control_history
		WHERE scope = $1
		ORDER BY changed_at
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query control history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ControlHistoryEntry

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan control history row: %w", err)
		}

		var entry models.ControlHistoryEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode control history document: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
