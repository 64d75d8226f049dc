// Package filter implements per-subscriber event selection: a disjunction of
// wiki code, wiki type and language sets, optionally narrowed by a CEL
// expression.
package filter

import (
	"errors"
	"strings"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

var ErrEmptyFilter = errors.New("at least one filter must be specified: codes, types, or languages")

type set map[string]struct{}

func newSet(values []string) set {
	s := make(set, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

// Filter is immutable once built and safe for concurrent use.
type Filter struct {
	codes     set
	types     set
	languages set
	expr      *Expression
}

// New builds a filter from the three inclusion lists. Blank entries are
// ignored; ErrEmptyFilter is returned when nothing remains in any list.
func New(codes, types, languages []string) (Filter, error) {
	f := Filter{
		codes:     newSet(codes),
		types:     newSet(types),
		languages: newSet(languages),
	}
	if len(f.codes) == 0 && len(f.types) == 0 && len(f.languages) == 0 {
		return Filter{}, ErrEmptyFilter
	}
	return f, nil
}

// WithExpression returns a copy of f that additionally requires expr to
// hold. A nil expr leaves the filter unchanged.
func (f Filter) WithExpression(expr *Expression) Filter {
	f.expr = expr
	return f
}

// Matches reports whether ev's code, wiki type or language is requested.
// An empty set never matches its dimension.
func (f Filter) Matches(ev domain.RefinedEvent) bool {
	if !f.codes.has(ev.Code) && !f.types.has(ev.WikiType) && !f.languages.has(ev.Language) {
		return false
	}
	return f.expr == nil || f.expr.Eval(ev)
}

// SplitList splits a comma-separated query value, dropping blank entries.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveLanguages maps language codes to the English names events carry.
// Tokens lookup does not know are kept as given, so names work too.
func ResolveLanguages(tokens []string, lookup func(code string) (string, bool)) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if name, ok := lookup(t); ok {
			out = append(out, name)
			continue
		}
		out = append(out, t)
	}
	return out
}
