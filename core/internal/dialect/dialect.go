// Package dialect isolates the per-backend differences of the SQL layer:
// placeholder style and RETURNING support. The renderer emits '?'
// placeholders uniformly and hands the finished statement to the dialect
// for a final rewrite pass.
package dialect

import (
	"fmt"
	"io"
)

type Dialect interface {
	Name() string

	// NumberPlaceholders rewrites the uniform '?' placeholders into the
	// dialect's positional form. Dialects that bind by '?' return the
	// statement unchanged.
	NumberPlaceholders(sql string) string

	// SupportsReturning reports whether mutation statements can carry a
	// RETURNING * clause to read back the post-image in one round trip.
	SupportsReturning() bool

	// RenderReturning appends the dialect's returning clause, if any.
	RenderReturning(w io.StringWriter)
}

// Supported lists the database types this engine can sit in front of.
var Supported = []string{"sqlite", "mysql", "postgres"}

// Get returns the dialect for a database type name.
func Get(name string) (Dialect, error) {
	switch name {
	case "sqlite":
		return &SQLiteDialect{}, nil
	case "mysql":
		return &MySQLDialect{}, nil
	case "postgres", "":
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", name)
	}
}
