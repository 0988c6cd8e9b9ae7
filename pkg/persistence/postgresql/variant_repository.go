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

// VariantRepository stores bandit arms.
type VariantRepository struct {
	db *sql.DB
}

func (r *VariantRepository) VariantByID(ctx context.Context, id string) (*models.Variant, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT doc FROM variants WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVariantNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query variant %s: %w", id, err)
	}

	var variant models.Variant
	if err := json.Unmarshal(doc, &variant); err != nil {
		return nil, fmt.Errorf("failed to decode variant document: %w", err)
	}

	return &variant, nil
}

func (r *VariantRepository) ActiveVariants(ctx context.Context, decisionPointID string) ([]*models.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc FROM variants
		WHERE decision_point_id = $1 AND active = true
		ORDER BY id
	`, decisionPointID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var variants []*models.Variant

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan variant row: %w", err)
		}

		var variant models.Variant
		if err := json.Unmarshal(doc, &variant); err != nil {
			return nil, fmt.Errorf("failed to decode variant document: %w", err)
		}

		variants = append(variants, &variant)
	}

	return variants, rows.Err()
}

func (r *VariantRepository) SaveVariant(ctx context.Context, variant *models.Variant) error {
	doc, err := json.Marshal(variant)
	if err != nil {
		return fmt.Errorf("failed to encode variant: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variants (id, decision_point_id, active, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, variant.ID, variant.DecisionPointID, variant.Active, doc, variant.CreatedAt,
		variant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save variant %s: %w", variant.ID, err)
	}

	return nil
}

// UpdateVariant applies the mutation under a row lock, so concurrent
// outcome reports serialize instead of losing increments to a stale read.
func (r *VariantRepository) UpdateVariant(ctx context.Context, id string, apply func(*models.Variant)) (*models.Variant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin variant update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte

	err = tx.QueryRowContext(ctx, "SELECT doc FROM variants WHERE id = $1 FOR UPDATE", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVariantNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to lock variant %s: %w", id, err)
	}

	var variant models.Variant
	if err := json.Unmarshal(doc, &variant); err != nil {
		return nil, fmt.Errorf("failed to decode variant document: %w", err)
	}

	apply(&variant)

	updated, err := json.Marshal(&variant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE variants
		SET active = $2, doc = $3, updated_at = $4
		WHERE id = $1
	`, id, variant.Active, updated, variant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update variant %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit variant update: %w", err)
	}

	return &variant, nil
}

func (r *VariantRepository) DeactivateVariant(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE variants
		SET active = false,
			doc = jsonb_set(doc, '{active}', 'false'),
			updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate variant %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivation of variant %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrVariantNotFound
	}

	return nil
}
