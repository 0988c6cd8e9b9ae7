// Package config loads the engine's definition file: triggers, workflows,
// variants and budget allotments. Definitions are validated twice at load
// time, first structurally against a JSON schema, then semantically
// (condition trees, workflow graphs). A bad definition file is fatal at
// startup; it never degrades into runtime behavior.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// ConfigurationError marks a definition problem caught at load time.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError

	return errors.As(err, &confErr)
}

// Definitions is the full content of one definition file.
type Definitions struct {
	Triggers   []*models.Trigger  `json:"triggers,omitempty"`
	Workflows  []*models.Workflow `json:"workflows,omitempty"`
	Variants   []*models.Variant  `json:"variants,omitempty"`
	Allotments []ledger.Allotment `json:"allotments,omitempty"`
	Templates  map[string]string  `json:"templates,omitempty"`
}

const definitionsSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"triggers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name", "plan"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 3},
					"priority": {"type": "integer"},
					"cooldown": {"type": "integer", "minimum": 0},
					"plan": {
						"type": "object",
						"required": ["workflow_id", "channel"],
						"properties": {
							"workflow_id": {"type": "string", "minLength": 1},
							"channel": {"enum": ["mail", "sms", "email", "voice", "social"]},
							"estimated_cost": {"type": "integer", "minimum": 0}
						}
					}
				}
			}
		},
		"workflows": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name", "steps"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 3},
					"steps": {"type": "array", "minItems": 1}
				}
			}
		},
		"variants": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "decision_point_id", "name"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"decision_point_id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1}
				}
			}
		},
		"templates": {
			"type": "object",
			"additionalProperties": {"type": "string", "minLength": 1}
		},
		"allotments": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["scope", "channel", "period", "amount"],
				"properties": {
					"scope": {"type": "string", "minLength": 1},
					"channel": {"enum": ["mail", "sms", "email", "voice", "social"]},
					"period": {"enum": ["day", "week", "month"]},
					"amount": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`

// Load reads, schema-checks and semantically validates a definition file.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionsSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, &ConfigurationError{Path: path, Err: errors.New(strings.Join(problems, "; "))}
	}

	var definitions Definitions
	if err := json.Unmarshal(data, &definitions); err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	if err := definitions.Validate(); err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	return &definitions, nil
}

// Validate runs the semantic checks the JSON schema cannot express.
func (d *Definitions) Validate() error {
	validate := validator.New()

	workflows := make(map[string]bool, len(d.Workflows))

	for _, workflow := range d.Workflows {
		if err := validate.Struct(workflow); err != nil {
			return fmt.Errorf("workflow %s: %w", workflow.ID, err)
		}

		if err := workflow.Validate(); err != nil {
			return err
		}

		workflows[workflow.ID] = true
	}

	for _, trigger := range d.Triggers {
		if err := validate.Struct(trigger); err != nil {
			return fmt.Errorf("trigger %s: %w", trigger.ID, err)
		}

		if err := trigger.Condition.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", trigger.ID, err)
		}

		if !workflows[trigger.Plan.WorkflowID] {
			return fmt.Errorf("trigger %s references unknown workflow %q", trigger.ID, trigger.Plan.WorkflowID)
		}
	}

	for _, variant := range d.Variants {
		if err := validate.Struct(variant); err != nil {
			return fmt.Errorf("variant %s: %w", variant.ID, err)
		}
	}

	for _, allotment := range d.Allotments {
		if err := validate.Struct(allotment); err != nil {
			return fmt.Errorf("allotment %s/%s: %w", allotment.Scope, allotment.Channel, err)
		}
	}

	return nil
}

// Apply upserts the definitions into the store. Variants are only created
// when missing; an existing arm keeps its learned posterior.
func (d *Definitions) Apply(ctx context.Context, persist persistence.Persistence, budgetLedger ledger.Ledger, logger *slog.Logger) error {
	now := time.Now().UTC()

	for _, workflow := range d.Workflows {
		if workflow.Status == "" {
			workflow.Status = models.WorkflowStatusActive
		}

		if workflow.CreatedAt.IsZero() {
			workflow.CreatedAt = now
		}

		workflow.UpdatedAt = now

		if err := persist.WorkflowRepository().SaveWorkflow(ctx, workflow); err != nil {
			return err
		}
	}

	for _, trigger := range d.Triggers {
		existing, err := persist.TriggerRepository().TriggerByID(ctx, trigger.ID)
		if err != nil && !persistence.IsNotFound(err) {
			return err
		}

		if existing != nil {
			// Definition fields are replaced; runtime state survives.
			trigger.LastFiredAt = existing.LastFiredAt
			trigger.FireCount = existing.FireCount
			trigger.CreatedAt = existing.CreatedAt
		} else {
			trigger.CreatedAt = now
		}

		trigger.Active = true
		trigger.UpdatedAt = now

		if err := persist.TriggerRepository().SaveTrigger(ctx, trigger); err != nil {
			return err
		}
	}

	for _, variant := range d.Variants {
		_, err := persist.VariantRepository().VariantByID(ctx, variant.ID)
		if err == nil {
			continue
		}

		if !persistence.IsNotFound(err) {
			return err
		}

		arm := models.NewVariant(variant.ID, variant.DecisionPointID, variant.Name)
		arm.TemplateID = variant.TemplateID
		arm.Channel = variant.Channel

		if err := persist.VariantRepository().SaveVariant(ctx, arm); err != nil {
			return err
		}
	}

	for _, allotment := range d.Allotments {
		if err := budgetLedger.SetAllotment(ctx, allotment.Scope, allotment.Channel, allotment.Period, allotment.Amount); err != nil {
			return err
		}
	}

	logger.InfoContext(ctx, "Definitions applied",
		"triggers", len(d.Triggers),
		"workflows", len(d.Workflows),
		"variants", len(d.Variants),
		"allotments", len(d.Allotments))

	return nil
}
