package conditional

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/oliveagle/jsonpath"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*\.?([^}]+?)\s*\}\}`)

	// Segments may contain hyphens, as node ids do; subtraction needs spaces.
	jsonPathPattern = regexp.MustCompile(`\$(\.[A-Za-z0-9_]+(?:-[A-Za-z0-9_]+)*)+`)

	errNotBoolean = errors.New("condition did not evaluate to a boolean")
)

// Expression is a compiled boolean condition. Variables are written as
// [trigger.severity], {{ trigger.severity }} or $.trigger.severity and are
// resolved with JSONPath against the execution variables.
type Expression struct {
	source     string
	expression *govaluate.EvaluableExpression
	refs       map[string]string
}

// Compile parses a condition expression.
func Compile(source string) (*Expression, error) {
	refs := make(map[string]string)

	bind := func(path string) string {
		name := fmt.Sprintf("ref%d", len(refs))
		refs[name] = path

		return name
	}

	processed := placeholderPattern.ReplaceAllStringFunc(source, func(match string) string {
		return bind(strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1]))
	})

	processed = jsonPathPattern.ReplaceAllStringFunc(processed, func(match string) string {
		return bind(strings.TrimPrefix(match, "$."))
	})

	expression, err := govaluate.NewEvaluableExpression(processed)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", source, err)
	}

	for _, name := range expression.Vars() {
		if _, ok := refs[name]; !ok {
			refs[name] = name
		}
	}

	return &Expression{source: source, expression: expression, refs: refs}, nil
}

// Evaluate resolves the referenced variables and evaluates the condition.
// Unresolvable references evaluate as nil.
func (e *Expression) Evaluate(variables map[string]any) (bool, error) {
	parameters := make(map[string]any, len(e.refs))

	for name, path := range e.refs {
		value, err := jsonpath.JsonPathLookup(variables, "$."+path)
		if err != nil {
			parameters[name] = nil

			continue
		}

		parameters[name] = normalize(value)
	}

	result, err := e.expression.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", e.source, err)
	}

	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %v", errNotBoolean, result)
	}

	return value, nil
}

// normalize widens numbers to float64, the only numeric type govaluate compares.
func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}
