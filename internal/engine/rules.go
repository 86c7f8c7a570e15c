package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
)

// programs caches compiled rule expressions by source text.
var programs sync.Map

// CompileExpression compiles an expression string into an expr-lang program.
func CompileExpression(expression string) (*vm.Program, error) {
	if p, ok := programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	programs.Store(expression, prog)
	return prog, nil
}

// EvaluateRule runs one rule against record. A rule expression describes
// the violation: true fails the record.
func EvaluateRule(rule metadata.Rule, record map[string]any, action metadata.Action) *ErrorDetail {
	prog, err := CompileExpression(rule.Expression)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
	}

	result, err := expr.Run(prog, map[string]any{
		"record": record,
		"action": string(action),
	})
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}
	if violated, _ := result.(bool); violated {
		msg := rule.Message
		if msg == "" {
			msg = "Expression rule violated"
		}
		return &ErrorDetail{Rule: "expression", Message: msg}
	}
	return nil
}

// ValidateRecord checks required paths, select options and expression
// rules against a complete record.
func ValidateRecord(t *metadata.TableConfig, record map[string]any, action metadata.Action) []ErrorDetail {
	var errs []ErrorDetail

	for _, name := range t.Required {
		p, ok := t.ResolvePath(name)
		if !ok {
			continue
		}
		if v, _ := p.Get(record); isBlank(v) {
			errs = append(errs, ErrorDetail{Field: name, Rule: "required", Message: fmt.Sprintf("%s is required", name)})
		}
	}

	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Type != metadata.ColumnSelect || len(col.Options) == 0 {
			continue
		}
		v, ok := col.Path.Get(record)
		s, isStr := v.(string)
		if !ok || !isStr || s == "" {
			continue
		}
		if !col.HasOption(s) {
			errs = append(errs, ErrorDetail{
				Field:   col.AccessorKey,
				Rule:    "options",
				Message: fmt.Sprintf("%s must be one of %s", col.AccessorKey, optionList(col)),
			})
		}
	}

	// Rules see the record with dotted keys expanded.
	expanded := document.Expand(record)
	for _, r := range t.Rules {
		if d := EvaluateRule(r, expanded, action); d != nil {
			errs = append(errs, *d)
		}
	}
	return errs
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func optionList(col *metadata.Column) string {
	vals := make([]string, len(col.Options))
	for i, o := range col.Options {
		vals[i] = o.Value
	}
	return strings.Join(vals, ", ")
}
