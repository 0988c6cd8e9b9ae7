package models

import (
	"errors"
	"fmt"
	"strings"
)

// Operator is a comparison applied to a single event field.
type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpContains       Operator = "contains"
	OpIn             Operator = "in"
	OpExists         Operator = "exists"
)

var ErrInvalidCondition = errors.New("invalid condition")

// Condition is a predicate over event fields, expressed as a small expression
// tree. A leaf carries field/op/value; combinator nodes carry exactly one of
// All, Any or Not. Conditions are stored as JSON on trigger and workflow
// definitions.
type Condition struct {
	Field string   `json:"field,omitempty"`
	Op    Operator `json:"op,omitempty"`
	Value any      `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`
}

// IsZero reports whether the condition is empty. An empty condition matches
// every event.
func (c Condition) IsZero() bool {
	return c.Field == "" && c.Op == "" && len(c.All) == 0 && len(c.Any) == 0 && c.Not == nil
}

// Validate checks the condition tree is well-formed. Malformed conditions are
// a load-time configuration failure, never a runtime one.
func (c Condition) Validate() error {
	if c.IsZero() {
		return nil
	}

	combinators := 0
	if len(c.All) > 0 {
		combinators++
	}

	if len(c.Any) > 0 {
		combinators++
	}

	if c.Not != nil {
		combinators++
	}

	if combinators > 1 {
		return fmt.Errorf("%w: at most one of all/any/not per node", ErrInvalidCondition)
	}

	if combinators == 1 {
		if c.Field != "" || c.Op != "" {
			return fmt.Errorf("%w: combinator node cannot carry field/op", ErrInvalidCondition)
		}

		for _, child := range c.All {
			if err := child.Validate(); err != nil {
				return err
			}
		}

		for _, child := range c.Any {
			if err := child.Validate(); err != nil {
				return err
			}
		}

		if c.Not != nil {
			return c.Not.Validate()
		}

		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("%w: leaf node requires a field", ErrInvalidCondition)
	}

	switch c.Op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual,
		OpContains, OpIn, OpExists:
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op)
	}
}

// Match evaluates the condition against an event.
func (c Condition) Match(event Event) (bool, error) {
	if c.IsZero() {
		return true, nil
	}

	if len(c.All) > 0 {
		for _, child := range c.All {
			ok, err := child.Match(event)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	}

	if len(c.Any) > 0 {
		for _, child := range c.Any {
			ok, err := child.Match(event)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	}

	if c.Not != nil {
		ok, err := c.Not.Match(event)
		if err != nil {
			return false, err
		}

		return !ok, nil
	}

	return c.matchLeaf(event)
}

func (c Condition) matchLeaf(event Event) (bool, error) {
	actual, exists := event.Field(c.Field)

	if c.Op == OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}

		return exists == want, nil
	}

	if !exists {
		return false, nil
	}

	switch c.Op {
	case OpEqual:
		return valuesEqual(actual, c.Value), nil
	case OpNotEqual:
		return !valuesEqual(actual, c.Value), nil
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		return compareNumeric(c.Op, actual, c.Value)
	case OpContains:
		haystack, okH := toString(actual)
		needle, okN := toString(c.Value)
		if !okH || !okN {
			return false, fmt.Errorf("%w: contains requires string operands for field %q", ErrInvalidCondition, c.Field)
		}

		return strings.Contains(haystack, needle), nil
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%w: in requires a list value for field %q", ErrInvalidCondition, c.Field)
		}

		for _, candidate := range list {
			if valuesEqual(actual, candidate) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op)
	}
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(op Operator, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if !aok || !bok {
		return false, fmt.Errorf("%w: %s requires numeric operands", ErrInvalidCondition, op)
	}

	switch op {
	case OpGreaterThan:
		return af > bf, nil
	case OpGreaterOrEqual:
		return af >= bf, nil
	case OpLessThan:
		return af < bf, nil
	case OpLessOrEqual:
		return af <= bf, nil
	default:
		return false, fmt.Errorf("%w: %s is not a numeric operator", ErrInvalidCondition, op)
	}
}

// NumericValue converts a field value to float64 when it carries a numeric
// type. Used by score factors, which treat non-numeric fields as zero.
func NumericValue(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	s, ok := v.(string)

	return s, ok
}
