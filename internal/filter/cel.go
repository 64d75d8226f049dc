package filter

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

var ErrInvalidExpression = errors.New("invalid filter expression")

const expressionCostLimit = 10_000

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("code", cel.StringType),
		cel.Variable("wiki_type", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("user", cel.StringType),
		cel.Variable("bot", cel.BoolType),
		cel.Variable("change_in_length", cel.IntType),
	)
})

// Expression is a compiled boolean CEL program over refined event fields,
// for example `!bot && change_in_length > 500`.
type Expression struct {
	source string
	prog   cel.Program
}

// Compile parses and type-checks src. A blank src yields a nil Expression.
func Compile(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, iss.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("%w: result type is %v, want bool", ErrInvalidExpression, ast.OutputType())
	}

	prog, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return &Expression{source: src, prog: prog}, nil
}

func (e *Expression) String() string {
	return e.source
}

// Eval reports whether ev satisfies the expression. Evaluation errors count
// as no match.
func (e *Expression) Eval(ev domain.RefinedEvent) bool {
	out, _, err := e.prog.Eval(map[string]any{
		"code":             ev.Code,
		"wiki_type":        ev.WikiType,
		"language":         ev.Language,
		"event_type":       string(ev.EventType),
		"domain":           ev.Domain,
		"title":            ev.Title,
		"user":             ev.User,
		"bot":              ev.IsBot(),
		"change_in_length": ev.ChangeInLength,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
