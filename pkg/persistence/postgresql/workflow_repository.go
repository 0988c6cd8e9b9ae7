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

// WorkflowRepository stores workflow definitions.
type WorkflowRepository struct {
	db *sql.DB
}

func (r *WorkflowRepository) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT doc FROM workflows ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []*models.Workflow

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}

		var workflow models.Workflow
		if err := json.Unmarshal(doc, &workflow); err != nil {
			return nil, fmt.Errorf("failed to decode workflow document: %w", err)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, rows.Err()
}

func (r *WorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT doc FROM workflows WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(doc, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow document: %w", err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	doc, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Name, workflow.Status, doc, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}
