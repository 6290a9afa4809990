// Package payloadexpr expands $(...) and ${...} JavaScript expressions inside
// task payloads at dispatch time.
package payloadexpr

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/me/orchestra/pkg/model"
)

// DefaultTimeout bounds a single payload expansion.
const DefaultTimeout = time.Second

// Context holds the values visible to expressions.
type Context struct {
	Now      time.Time
	Task     model.Task
	Resource string
}

// Evaluator evaluates payload expressions with goja. A fresh VM is created
// for each expansion so evaluations share no state.
type Evaluator struct {
	lib     []string
	timeout time.Duration
}

// NewEvaluator creates an evaluator. lib is JavaScript loaded before every
// evaluation, e.g. helper functions shared by task definitions.
func NewEvaluator(lib ...string) *Evaluator {
	return &Evaluator{lib: lib, timeout: DefaultTimeout}
}

// WithTimeout returns a copy that interrupts evaluation after d.
func (e *Evaluator) WithTimeout(d time.Duration) *Evaluator {
	c := *e
	c.timeout = d
	return &c
}

func (e *Evaluator) setupVM(ctx Context) (*goja.Runtime, error) {
	vm := goja.New()
	for i, lib := range e.lib {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("lib[%d]: %w", i, err)
		}
	}

	params := map[string]any{}
	maps.Copy(params, ctx.Task.Params)
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	vars := map[string]any{
		"now":    now.UTC().Format(time.RFC3339),
		"params": params,
		"task": map[string]any{
			"ref":         ctx.Task.TaskRef,
			"type":        ctx.Task.TaskType,
			"manual":      ctx.Task.Manual,
			"schedule_id": ctx.Task.ScheduleID,
		},
		"resource": ctx.Resource,
	}
	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return vm, nil
}

// Expand returns a copy of p with every expression in its string fields
// evaluated. Failures wrap model.ErrInvalidPayload.
func (e *Evaluator) Expand(p model.Payload, ctx Context) (model.Payload, error) {
	if !payloadHasExpression(p) {
		return p, nil
	}
	vm, err := e.setupVM(ctx)
	if err != nil {
		return p, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
	}
	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() { vm.Interrupt("payload expression timed out") })
		defer timer.Stop()
	}

	out := p
	for _, field := range []*string{&out.Prompt, &out.System, &out.Method, &out.Path} {
		s, err := evalString(vm, *field)
		if err != nil {
			return p, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
		}
		*field = s
	}
	if p.Body != nil {
		body, err := evalValue(vm, p.Body)
		if err != nil {
			return p, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
		}
		out.Body = body.(map[string]any)
	}
	return out, nil
}

// Evaluate evaluates a single string against ctx.
func (e *Evaluator) Evaluate(expr string, ctx Context) (any, error) {
	if !containsExpression(expr) {
		return unescape(expr), nil
	}
	vm, err := e.setupVM(ctx)
	if err != nil {
		return nil, err
	}
	return evaluate(vm, expr)
}

func evalString(vm *goja.Runtime, s string) (string, error) {
	if !containsExpression(s) {
		return unescape(s), nil
	}
	v, err := evaluate(vm, s)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// evalValue walks maps and slices, evaluating every string leaf. A string
// that is a single expression keeps the expression's type.
func evalValue(vm *goja.Runtime, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !containsExpression(val) {
			return unescape(val), nil
		}
		return evaluate(vm, val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := evalValue(vm, item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := evalValue(vm, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func evaluate(vm *goja.Runtime, expr string) (any, error) {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "${") {
		if idx := findMatchingBrace(trimmed); idx == len(trimmed)-1 {
			code := strings.TrimSpace(trimmed[2:idx])
			val, err := vm.RunString("(function() { " + code + " })()")
			if err != nil {
				return nil, fmt.Errorf("javascript error: %w", err)
			}
			return val.Export(), nil
		}
	}

	matches := findExpressions(expr)
	if len(matches) == 1 && matches[0].start == 0 && matches[0].end == len(expr) {
		return runExpr(vm, matches[0].expr)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(expr[last:m.start])
		v, err := runExpr(vm, m.expr)
		if err != nil {
			return nil, err
		}
		b.WriteString(toString(v))
		last = m.end
	}
	b.WriteString(expr[last:])
	return unescape(b.String()), nil
}

func runExpr(vm *goja.Runtime, code string) (any, error) {
	if strings.HasPrefix(strings.TrimSpace(code), "{") {
		code = "(" + code + ")"
	}
	val, err := vm.RunString(code)
	if err != nil {
		return nil, fmt.Errorf("expression error in $(%s): %w", code, err)
	}
	if goja.IsUndefined(val) {
		return nil, fmt.Errorf("expression $(%s) is undefined", code)
	}
	return val.Export(), nil
}

func payloadHasExpression(p model.Payload) bool {
	for _, s := range []string{p.Prompt, p.System, p.Method, p.Path} {
		if containsExpression(s) {
			return true
		}
	}
	return p.Body != nil
}

// findMatchingBrace returns the index of the brace closing a leading ${, or -1.
func findMatchingBrace(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type exprMatch struct {
	start int // index of "$("
	end   int // index after the closing ")"
	expr  string
}

// findExpressions finds all unescaped $(expr) spans, honoring nested parentheses.
func findExpressions(s string) []exprMatch {
	var matches []exprMatch
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '$' || s[i+1] != '(' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		depth := 1
		j := i + 2
		for j < len(s) && depth > 0 {
			switch s[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
			j++
		}
		if depth == 0 {
			matches = append(matches, exprMatch{start: i, end: j, expr: s[i+2 : j-1]})
			i = j - 1
		}
	}
	return matches
}

func containsExpression(s string) bool {
	if strings.HasPrefix(strings.TrimSpace(s), "${") {
		return true
	}
	return len(findExpressions(s)) > 0
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\$(`, "$(")
	return strings.ReplaceAll(s, `\${`, "${")
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
