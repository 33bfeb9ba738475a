package workflow

import (
	"testing"
)

func TestEvalPredicateLiterals(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"1 == 1", true},
		{"1 != 2", true},
		{"2 < 1", false},
		{"2 >= 2", true},
		{"'release' == \"release\"", true},
		{"'alpha' < 'beta'", true},
		{"true && false", false},
		{"true || false", true},
		{"!false", true},
		{"!(1 == 1)", false},
		{"(1 == 2) || (3 > 2 && true)", true},
		{"-1 < 0", true},
		{"1.5 > 1.25", true},
	}
	for _, tc := range cases {
		got, err := EvalPredicate(tc.expr, nil)
		if err != nil {
			t.Errorf("EvalPredicate(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalPredicate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalPredicateVariables(t *testing.T) {
	vars := map[string]any{
		"env":   "production",
		"count": 3,
		"step": map[string]any{
			"build": map[string]any{
				"success": true,
				"output":  "ok",
			},
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"env == 'production'", true},
		{"${env} == 'production'", true},
		{"count > 2", true},
		{"count >= 4", false},
		{"step.build.success", true},
		{"step.build.success && env == 'production'", true},
		{"step.build.output == 'ok'", true},
		{"step.deploy.success", false},
		{"missing == 'anything'", false},
	}
	for _, tc := range cases {
		got, err := EvalPredicate(tc.expr, vars)
		if err != nil {
			t.Errorf("EvalPredicate(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalPredicate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalPredicateTruthiness(t *testing.T) {
	vars := map[string]any{
		"empty":   "",
		"word":    "yes",
		"zero":    0,
		"nonzero": 7,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"empty", false},
		{"word", true},
		{"zero", false},
		{"nonzero", true},
		{"missing", false},
	}
	for _, tc := range cases {
		got, err := EvalPredicate(tc.expr, vars)
		if err != nil {
			t.Errorf("EvalPredicate(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalPredicate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalPredicateErrors(t *testing.T) {
	exprs := []string{
		"'unterminated",
		"${unterminated",
		"(1 == 1",
		"1 == == 2",
		"@",
		"true extra",
	}
	for _, expr := range exprs {
		if _, err := EvalPredicate(expr, nil); err == nil {
			t.Errorf("EvalPredicate(%q) succeeded, want error", expr)
		}
	}
}
