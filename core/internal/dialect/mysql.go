package dialect

import "io"

// MySQLDialect binds by '?'. MySQL has no RETURNING clause, so the
// operation processor reads post-images back with a follow-up select.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string { return "mysql" }

func (d *MySQLDialect) NumberPlaceholders(sql string) string { return sql }

func (d *MySQLDialect) SupportsReturning() bool { return false }

func (d *MySQLDialect) RenderReturning(w io.StringWriter) {}
