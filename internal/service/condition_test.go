package service

import (
	"testing"

	"expensehub/internal/model"

	"github.com/shopspring/decimal"
)

func conditionReport(amount string, category string) *model.ExpenseReport {
	return &model.ExpenseReport{
		TotalAmount: decimal.RequireFromString(amount),
		Category:    category,
		Status:      model.StatusSubmitted,
	}
}

func TestValidateCondition(t *testing.T) {
	cases := []struct {
		name    string
		cond    *model.Condition
		wantErr bool
	}{
		{"nil condition", nil, false},
		{"greater_than numeric", &model.Condition{Field: "totalAmount", Operator: model.OpGreaterThan, Value: 1000}, false},
		{"greater_than string number", &model.Condition{Field: "totalAmount", Operator: model.OpGreaterThan, Value: "1000.50"}, false},
		{"equals string", &model.Condition{Field: "category", Operator: model.OpEquals, Value: "travel"}, false},
		{"in array", &model.Condition{Field: "category", Operator: model.OpIn, Value: []interface{}{"travel", "meals"}}, false},
		{"unknown field", &model.Condition{Field: "submitterName", Operator: model.OpEquals, Value: "x"}, true},
		{"unknown operator", &model.Condition{Field: "category", Operator: "matches", Value: "x"}, true},
		{"greater_than non-numeric", &model.Condition{Field: "totalAmount", Operator: model.OpGreaterThan, Value: "plenty"}, true},
		{"in without array", &model.Condition{Field: "category", Operator: model.OpIn, Value: "travel"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCondition(tc.cond)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateCondition() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	cases := []struct {
		name   string
		cond   *model.Condition
		report *model.ExpenseReport
		want   bool
	}{
		{
			"nil condition is false",
			nil,
			conditionReport("100", "travel"),
			false,
		},
		{
			"greater_than true",
			&model.Condition{Field: "totalAmount", Operator: model.OpGreaterThan, Value: 1000},
			conditionReport("1500.00", "travel"),
			true,
		},
		{
			"greater_than boundary is exclusive",
			&model.Condition{Field: "totalAmount", Operator: model.OpGreaterThan, Value: 1000},
			conditionReport("1000.00", "travel"),
			false,
		},
		{
			"less_than true",
			&model.Condition{Field: "totalAmount", Operator: model.OpLessThan, Value: "200"},
			conditionReport("150", "meals"),
			true,
		},
		{
			"equals case-insensitive",
			&model.Condition{Field: "category", Operator: model.OpEquals, Value: "Travel"},
			conditionReport("10", "travel"),
			true,
		},
		{
			"not_equals",
			&model.Condition{Field: "category", Operator: model.OpNotEquals, Value: "meals"},
			conditionReport("10", "travel"),
			true,
		},
		{
			"in matches",
			&model.Condition{Field: "category", Operator: model.OpIn, Value: []interface{}{"meals", "travel"}},
			conditionReport("10", "travel"),
			true,
		},
		{
			"not_in matches",
			&model.Condition{Field: "category", Operator: model.OpNotIn, Value: []interface{}{"meals"}},
			conditionReport("10", "travel"),
			true,
		},
		{
			"numeric equality across representations",
			&model.Condition{Field: "totalAmount", Operator: model.OpEquals, Value: "150.0"},
			conditionReport("150", "travel"),
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evaluateCondition(tc.cond, tc.report)
			if err != nil {
				t.Fatalf("evaluateCondition() unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("evaluateCondition() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditionUnknownFieldErrors(t *testing.T) {
	_, err := evaluateCondition(&model.Condition{Field: "nope", Operator: model.OpEquals, Value: "x"}, conditionReport("10", "travel"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}
