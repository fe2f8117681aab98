// Package query provides a fluent SQL builder with eager-loading,
// prefetching, and annotation hints, plus the analyzer that derives
// those hints from template attribute paths.
package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Condition represents a single WHERE predicate.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
	Or       bool
}

// toSQL renders the condition with $N placeholders, appending bound
// values to args.
func (c *Condition) toSQL(table string, paramCounter *int, args *[]any) (string, error) {
	column := table + "." + c.Field

	switch c.Operator {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", column, c.Operator), nil

	case OpIn, OpNotIn:
		values, ok := c.Value.([]any)
		if !ok {
			return "", fmt.Errorf("%s requires a slice value, got %T", c.Operator, c.Value)
		}
		if len(values) == 0 {
			// Empty IN matches nothing; empty NOT IN matches everything.
			if c.Operator == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = fmt.Sprintf("$%d", *paramCounter)
			*paramCounter++
			*args = append(*args, v)
		}
		return fmt.Sprintf("%s %s (%s)", column, c.Operator, strings.Join(placeholders, ", ")), nil

	default:
		placeholder := fmt.Sprintf("$%d", *paramCounter)
		*paramCounter++
		*args = append(*args, c.Value)
		return fmt.Sprintf("%s %s %s", column, c.Operator, placeholder), nil
	}
}
