package storage

import "strings"

// Args accumulates bound values in placeholder order.
type Args struct {
	dialect Dialect
	values  []any
}

func NewArgs(d Dialect) *Args {
	return &Args{dialect: d}
}

// Add binds v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// AddIn binds every value and returns the comma-separated placeholders for an
// IN list. An empty list renders NULL, which no row can match.
func (a *Args) AddIn(values ...any) string {
	if len(values) == 0 {
		return "NULL"
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = a.Add(v)
	}
	return strings.Join(ph, ", ")
}

// Values returns the bound values for QueryContext/ExecContext.
func (a *Args) Values() []any {
	return a.values
}

// InList widens a typed slice for AddIn.
func InList[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
