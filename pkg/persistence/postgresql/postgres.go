// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/groundgame/groundgame/pkg/persistence"
	"github.com/groundgame/groundgame/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	triggerRepo    *TriggerRepository
	decisionRepo   *DecisionRepository
	workflowRepo   *WorkflowRepository
	enrollmentRepo *EnrollmentRepository
	controlRepo    *ControlRepository
	variantRepo    *VariantRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		triggerRepo:    &TriggerRepository{db: database},
		decisionRepo:   &DecisionRepository{db: database},
		workflowRepo:   &WorkflowRepository{db: database},
		enrollmentRepo: &EnrollmentRepository{db: database},
		controlRepo:    &ControlRepository{db: database},
		variantRepo:    &VariantRepository{db: database},
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository { return p.triggerRepo }

func (p *Persistence) DecisionRepository() persistence.DecisionRepository { return p.decisionRepo }

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }

func (p *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

func (p *Persistence) ControlRepository() persistence.ControlRepository { return p.controlRepo }

func (p *Persistence) VariantRepository() persistence.VariantRepository { return p.variantRepo }
