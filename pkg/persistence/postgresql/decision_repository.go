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

// DecisionRepository stores the append-only decision log.
type DecisionRepository struct {
	db *sql.DB
}

func (r *DecisionRepository) SaveDecision(ctx context.Context, decision *models.Decision) error {
	doc, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decisions (id, trigger_id, recipient_id, verdict, reason, doc, decided_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, decision.ID, decision.TriggerID, decision.RecipientID, decision.Verdict, decision.Reason,
		doc, decision.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to save decision %s: %w", decision.ID, err)
	}

	return nil
}

func (r *DecisionRepository) DecisionByID(ctx context.Context, id string) (*models.Decision, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT doc FROM decisions WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDecisionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query decision %s: %w", id, err)
	}

	var decision models.Decision
	if err := json.Unmarshal(doc, &decision); err != nil {
		return nil, fmt.Errorf("failed to decode decision document: %w", err)
	}

	return &decision, nil
}

func (r *DecisionRepository) Decisions(ctx context.Context, limit int) ([]*models.Decision, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT doc FROM decisions ORDER BY decided_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []*models.Decision

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}

		var decision models.Decision
		if err := json.Unmarshal(doc, &decision); err != nil {
			return nil, fmt.Errorf("failed to decode decision document: %w", err)
		}

		decisions = append(decisions, &decision)
	}

	return decisions, rows.Err()
}

func (r *DecisionRepository) AttachOutcome(ctx context.Context, decisionID string, outcome models.DecisionOutcome) (*models.Decision, error) {
	decision, err := r.DecisionByID(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	if !decision.RecordOutcome(outcome) {
		return nil, persistence.ErrOutcomeAlreadyRecorded
	}

	doc, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision: %w", err)
	}

	// The outcome guard lives in the WHERE clause too, so a concurrent
	// report cannot overwrite the first one.
	result, err := r.db.ExecContext(ctx, `
		UPDATE decisions SET doc = $2
		WHERE id = $1 AND doc->'outcome' IS NULL
	`, decisionID, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to attach outcome to decision %s: %w", decisionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check outcome attach for decision %s: %w", decisionID, err)
	}

	if affected == 0 {
		return nil, persistence.ErrOutcomeAlreadyRecorded
	}

	return decision, nil
}
