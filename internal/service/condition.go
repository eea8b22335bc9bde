package service

import (
	"fmt"
	"strings"

	"expensehub/internal/apperr"
	"expensehub/internal/model"

	"github.com/shopspring/decimal"
)

// reportFieldAccessors maps condition field names to typed getters. Unknown
// fields are rejected when a workflow definition is saved, not at evaluation
// time, so a live report never hits an unresolvable condition.
var reportFieldAccessors = map[string]func(*model.ExpenseReport) interface{}{
	"totalAmount": func(r *model.ExpenseReport) interface{} { return r.TotalAmount },
	"category":    func(r *model.ExpenseReport) interface{} { return r.Category },
	"status":      func(r *model.ExpenseReport) interface{} { return r.Status },
	"departmentId": func(r *model.ExpenseReport) interface{} {
		if r.DepartmentID == nil {
			return ""
		}
		return r.DepartmentID.String()
	},
	"userId": func(r *model.ExpenseReport) interface{} { return r.UserID.String() },
}

// validateCondition checks the discriminant exhaustively at definition save time
func validateCondition(c *model.Condition) error {
	if c == nil {
		return nil
	}
	if _, ok := reportFieldAccessors[c.Field]; !ok {
		return apperr.Validation("unknown condition field '%s'", c.Field)
	}
	switch c.Operator {
	case model.OpGreaterThan, model.OpLessThan:
		if _, err := toDecimal(c.Value); err != nil {
			return apperr.Validation("operator '%s' requires a numeric value", c.Operator)
		}
	case model.OpEquals, model.OpNotEquals:
		// any scalar comparable
	case model.OpIn, model.OpNotIn:
		if _, ok := c.Value.([]interface{}); !ok {
			return apperr.Validation("operator '%s' requires an array value", c.Operator)
		}
	default:
		return apperr.Validation("unknown condition operator '%s'", c.Operator)
	}
	return nil
}

// evaluateCondition interprets a condition against a report. Definitions are
// validated at save time, so errors here indicate snapshot corruption.
func evaluateCondition(c *model.Condition, r *model.ExpenseReport) (bool, error) {
	if c == nil {
		return false, nil
	}

	accessor, ok := reportFieldAccessors[c.Field]
	if !ok {
		return false, fmt.Errorf("unknown condition field '%s'", c.Field)
	}
	fieldValue := accessor(r)

	switch c.Operator {
	case model.OpGreaterThan, model.OpLessThan:
		left, err := toDecimal(fieldValue)
		if err != nil {
			return false, fmt.Errorf("field '%s' is not numeric: %w", c.Field, err)
		}
		right, err := toDecimal(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition value is not numeric: %w", err)
		}
		if c.Operator == model.OpGreaterThan {
			return left.GreaterThan(right), nil
		}
		return left.LessThan(right), nil

	case model.OpEquals, model.OpNotEquals:
		equal := compareEqual(fieldValue, c.Value)
		if c.Operator == model.OpEquals {
			return equal, nil
		}
		return !equal, nil

	case model.OpIn, model.OpNotIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("operator '%s' requires an array value", c.Operator)
		}
		found := false
		for _, candidate := range list {
			if compareEqual(fieldValue, candidate) {
				found = true
				break
			}
		}
		if c.Operator == model.OpIn {
			return found, nil
		}
		return !found, nil

	default:
		return false, fmt.Errorf("unknown condition operator '%s'", c.Operator)
	}
}

// compareEqual compares numerically when both sides parse as numbers,
// otherwise falls back to case-insensitive string comparison.
func compareEqual(a, b interface{}) bool {
	da, errA := toDecimal(a)
	db, errB := toDecimal(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return strings.EqualFold(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case string:
		return decimal.NewFromString(val)
	default:
		return decimal.Zero, fmt.Errorf("value %v is not numeric", v)
	}
}
