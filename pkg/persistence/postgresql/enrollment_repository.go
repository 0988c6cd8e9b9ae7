package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// EnrollmentRepository stores enrollments and their step executions. The
// one-active-enrollment invariant is enforced by a partial unique index, so
// duplicate creation fails atomically at the write boundary.
type EnrollmentRepository struct {
	db *sql.DB
}

func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	doc, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, workflow_id, recipient_id, status, next_step_at, version, doc, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, enrollment.ID, enrollment.WorkflowID, enrollment.RecipientID, enrollment.Status,
		enrollment.NextStepAt, enrollment.Version, doc, enrollment.EnrolledAt, enrollment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.ErrDuplicateEnrollment
		}

		return fmt.Errorf("failed to create enrollment %s: %w", enrollment.ID, err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique violations as SQLSTATE 23505.
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key value")
}

func (r *EnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.queryOne(ctx, "SELECT doc FROM enrollments WHERE id = $1", id)
}

func (r *EnrollmentRepository) ActiveEnrollment(ctx context.Context, workflowID, recipientID string) (*models.Enrollment, error) {
	return r.queryOne(ctx, `
		SELECT doc FROM enrollments
		WHERE workflow_id = $1 AND recipient_id = $2 AND status IN ('active', 'paused')
		LIMIT 1
	`, workflowID, recipientID)
}

func (r *EnrollmentRepository) queryOne(ctx context.Context, querySQL string, args ...any) (*models.Enrollment, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, querySQL, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrEnrollmentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment: %w", err)
	}

	var enrollment models.Enrollment
	if err := json.Unmarshal(doc, &enrollment); err != nil {
		return nil, fmt.Errorf("failed to decode enrollment document: %w", err)
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	doc, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = $2, next_step_at = $3, version = $4, doc = $5, updated_at = $6
		WHERE id = $1
	`, enrollment.ID, enrollment.Status, enrollment.NextStepAt, enrollment.Version, doc,
		enrollment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update enrollment %s: %w", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of enrollment %s: %w", enrollment.ID, err)
	}

	if affected == 0 {
		return persistence.ErrEnrollmentNotFound
	}

	return nil
}

func (r *EnrollmentRepository) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT doc FROM enrollments
		WHERE status = 'active' AND next_step_at <= $1
		ORDER BY next_step_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var enrollments []*models.Enrollment

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment row: %w", err)
		}

		var enrollment models.Enrollment
		if err := json.Unmarshal(doc, &enrollment); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment document: %w", err)
		}

		enrollments = append(enrollments, &enrollment)
	}

	return enrollments, rows.Err()
}

func (r *EnrollmentRepository) SuspendedEnrollments(ctx context.Context) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc FROM enrollments
		WHERE status = 'paused' AND doc->>'pause_cause' = 'suspended'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspended enrollments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var enrollments []*models.Enrollment

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment row: %w", err)
		}

		var enrollment models.Enrollment
		if err := json.Unmarshal(doc, &enrollment); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment document: %w", err)
		}

		enrollments = append(enrollments, &enrollment)
	}

	return enrollments, rows.Err()
}

func (r *EnrollmentRepository) ClaimEnrollment(ctx context.Context, id string, version int64, workerID string, now time.Time) (*models.Enrollment, error) {
	// Compare-and-swap on the version column; the losing worker gets zero
	// rows affected and backs off.
	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET version = version + 1,
			doc = doc || jsonb_build_object('version', version + 1, 'claimed_by', $3::text, 'claimed_at', $4::text),
			updated_at = $4
		WHERE id = $1 AND version = $2
	`, id, version, workerID, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to claim enrollment %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check claim of enrollment %s: %w", id, err)
	}

	if affected == 0 {
		if _, lookupErr := r.EnrollmentByID(ctx, id); lookupErr != nil {
			return nil, lookupErr
		}

		return nil, persistence.ErrEnrollmentClaimConflict
	}

	return r.EnrollmentByID(ctx, id)
}

func (r *EnrollmentRepository) SaveStepExecution(ctx context.Context, execution *models.StepExecution) error {
	doc, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to encode step execution: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_executions (id, enrollment_id, idempotency_key, status, doc, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc
	`, execution.ID, execution.EnrollmentID, execution.IdempotencyKey, execution.Status, doc,
		execution.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save step execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) StepExecutions(ctx context.Context, enrollmentID string) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc FROM step_executions
		WHERE enrollment_id = $1
		ORDER BY started_at
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*models.StepExecution

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan step execution row: %w", err)
		}

		var execution models.StepExecution
		if err := json.Unmarshal(doc, &execution); err != nil {
			return nil, fmt.Errorf("failed to decode step execution document: %w", err)
		}

		executions = append(executions, &execution)
	}

	return executions, rows.Err()
}

func (r *EnrollmentRepository) StepExecutionByKey(ctx context.Context, idempotencyKey string) (*models.StepExecution, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT doc FROM step_executions
		WHERE idempotency_key = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, idempotencyKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrStepExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query step execution: %w", err)
	}

	var execution models.StepExecution
	if err := json.Unmarshal(doc, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode step execution document: %w", err)
	}

	return &execution, nil
}
