package dialect

import "io"

// SQLiteDialect binds by '?' and supports RETURNING on all mutations.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string { return "sqlite" }

func (d *SQLiteDialect) NumberPlaceholders(sql string) string { return sql }

func (d *SQLiteDialect) SupportsReturning() bool { return true }

func (d *SQLiteDialect) RenderReturning(w io.StringWriter) {
	w.WriteString(" RETURNING *") //nolint:errcheck
}
