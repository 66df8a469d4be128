package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
)

// Helper functions available in every condition and action expression, on
// top of the expr built-ins (abs, max, min, round, len, int, float). Only
// pure functions are exposed; there is no attribute access on engine
// internals and no way to reach I/O from an expression.
var exprFunctions = []expr.Option{
	expr.Function("str", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("str() expects 1 argument, got %d", len(params))
		}
		return fmt.Sprintf("%v", params[0]), nil
	}),
	expr.Function("bool", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("bool() expects 1 argument, got %d", len(params))
		}
		return truthy(params[0]), nil
	}),
}

// Evaluator evaluates the restricted condition and assignment grammars
// against a Variables store. Conditions never propagate evaluation errors;
// they degrade to false. Assignments fail fast.
type Evaluator struct {
	vars *Variables
	log  *slog.Logger
}

func NewEvaluator(vars *Variables, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{vars: vars, log: log}
}

// Condition evaluates a ';'-separated condition string with AND semantics:
// every non-empty clause must hold. A clause that fails to compile, errors at
// runtime, or evaluates falsy makes the whole condition false.
func (e *Evaluator) Condition(condition string) bool {
	env := e.vars.Snapshot()

	for _, clause := range strings.Split(condition, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		result, err := e.eval(rewriteEquality(clause), env)
		if err != nil {
			e.log.Warn("condition clause failed to evaluate, treating as false",
				"clause", clause,
				"error", err)
			return false
		}
		if !truthy(result) {
			return false
		}
	}
	return true
}

// Apply executes one or more ';'-separated assignment statements, strictly
// left to right. A statement assigned earlier in the same string is visible
// to later statements. Writes go through Variables.Set, so watch logging and
// change detection apply.
func (e *Evaluator) Apply(action string) error {
	env := e.vars.Snapshot()

	for _, stmt := range strings.Split(action, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		eq := strings.Index(stmt, "=")
		if eq < 0 {
			return &ExpressionError{Expr: stmt, Err: fmt.Errorf("not an assignment")}
		}

		name := strings.TrimSpace(stmt[:eq])
		rhs := strings.TrimSpace(stmt[eq+1:])
		if !isIdentifier(name) {
			return &ExpressionError{Expr: stmt, Err: fmt.Errorf("invalid variable name %q", name)}
		}

		value, err := e.eval(rhs, env)
		if err != nil {
			return &ExpressionError{Expr: stmt, Err: err}
		}

		e.vars.Set(name, value)
		env[name] = value
	}
	return nil
}

// eval compiles and runs a single expression in the sandbox. Variables not
// present in the store evaluate to nil rather than failing compilation.
func (e *Evaluator) eval(code string, env map[string]any) (any, error) {
	env["null"] = nil

	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(code, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// rewriteEquality turns a bare '=' into '==' so users may write "count = 5"
// meaning equality. '==', '!=', '<=' and '>=' are left untouched, as is
// anything inside a string literal. Go regexp has no lookbehind, so this is
// a byte scanner.
func rewriteEquality(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)

	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			b.WriteByte(c)
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
			b.WriteByte(c)
		case '=':
			prevOp := i > 0 && (s[i-1] == '=' || s[i-1] == '<' || s[i-1] == '>' || s[i-1] == '!')
			nextEq := i+1 < len(s) && s[i+1] == '='
			if !prevOp && !nextEq {
				b.WriteString("==")
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// truthy mirrors the loose truthiness the condition grammar promises:
// nil, false, zero numbers, and empty strings are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// isIdentifier reports whether s is a valid variable name: letters, digits
// and underscores, not starting with a digit.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
