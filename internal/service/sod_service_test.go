package service

import (
	"encoding/json"
	"reflect"
	"testing"

	"expensehub/internal/model"
)

func sodRule(name string, perms ...string) model.SodRule {
	encoded, _ := json.Marshal(perms)
	return model.SodRule{
		Name:          name,
		PermissionSet: string(encoded),
		RiskLevel:     model.RiskCritical,
		IsActive:      true,
	}
}

func TestEvaluateSodRulesSupersetRule(t *testing.T) {
	rules := []model.SodRule{sodRule("Payment Conflict", "expense.approve", "expense.pay")}

	// Holding the full toxic set violates
	got := evaluateSodRules(rules, toPermSet([]string{"expense.approve", "expense.pay", "expense.read"}))
	if got.Valid {
		t.Fatal("expected violation when full toxic set is held")
	}
	if len(got.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(got.Violations))
	}
	v := got.Violations[0]
	if v.RuleName != "Payment Conflict" {
		t.Fatalf("rule name = %q", v.RuleName)
	}
	want := []string{"expense.approve", "expense.pay"}
	if !reflect.DeepEqual(v.ConflictingPermissions, want) {
		t.Fatalf("conflicting permissions = %v, want %v", v.ConflictingPermissions, want)
	}

	// Holding a strict subset is clean
	got = evaluateSodRules(rules, toPermSet([]string{"expense.approve", "expense.read"}))
	if !got.Valid {
		t.Fatalf("subset of toxic set should pass, got violations %v", got.Violations)
	}
}

func TestEvaluateSodRulesCollectsAllViolations(t *testing.T) {
	rules := []model.SodRule{
		sodRule("Payment Conflict", "expense.approve", "expense.pay"),
		sodRule("Role Self-Grant", "roles.manage", "roles.assign_privileged"),
		sodRule("Unrelated", "audit.export", "users.manage"),
	}
	perms := toPermSet([]string{
		"expense.approve", "expense.pay",
		"roles.manage", "roles.assign_privileged",
	})

	got := evaluateSodRules(rules, perms)
	if got.Valid {
		t.Fatal("expected violations")
	}
	if len(got.Violations) != 2 {
		t.Fatalf("violations = %d, want 2 (all conflicts reported at once)", len(got.Violations))
	}
}

func TestEvaluateSodRulesEmptyInputs(t *testing.T) {
	if got := evaluateSodRules(nil, toPermSet([]string{"expense.approve"})); !got.Valid {
		t.Fatal("no rules should always pass")
	}
	rules := []model.SodRule{sodRule("Payment Conflict", "expense.approve", "expense.pay")}
	if got := evaluateSodRules(rules, toPermSet(nil)); !got.Valid {
		t.Fatal("empty permission set should always pass")
	}
}

func TestEvaluateSodRulesSkipsMalformedRule(t *testing.T) {
	rules := []model.SodRule{
		{Name: "Broken", PermissionSet: "{not json", IsActive: true},
		sodRule("Payment Conflict", "expense.approve", "expense.pay"),
	}
	got := evaluateSodRules(rules, toPermSet([]string{"expense.approve", "expense.pay"}))
	if got.Valid || len(got.Violations) != 1 {
		t.Fatalf("malformed rule should be skipped, valid ones still applied: %+v", got)
	}
}
