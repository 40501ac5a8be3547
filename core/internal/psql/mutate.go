package psql

import (
	"strings"
)

// CompileInsert renders an INSERT for n rows sharing one key order:
// INSERT INTO t (k1, k2) VALUES (?, ?), (?, ?) RETURNING *
func (co *Compiler) CompileInsert(table string, keys []string, nRows int) string {
	var w strings.Builder

	w.WriteString(`INSERT INTO `)
	w.WriteString(sanitizeIdentifier(table))
	w.WriteString(` (`)
	for i, k := range keys {
		if i != 0 {
			w.WriteString(", ")
		}
		w.WriteString(sanitizeIdentifier(k))
	}
	w.WriteString(`) VALUES `)
	repeatPlaceholders(&w, len(keys), nRows)
	co.d.RenderReturning(&w)

	return co.d.NumberPlaceholders(w.String())
}

// CompileUpdate renders an UPDATE by id:
// UPDATE t SET "k1" = ?, "k2" = ? WHERE id = ? RETURNING *
func (co *Compiler) CompileUpdate(table string, keys []string) string {
	var w strings.Builder

	w.WriteString(`UPDATE `)
	w.WriteString(sanitizeIdentifier(table))
	w.WriteString(` SET `)
	for i, k := range keys {
		if i != 0 {
			w.WriteString(", ")
		}
		w.WriteByte('"')
		w.WriteString(sanitizeIdentifier(k))
		w.WriteString(`" = ?`)
	}
	w.WriteString(` WHERE id = ?`)
	co.d.RenderReturning(&w)

	return co.d.NumberPlaceholders(w.String())
}

// CompileDelete renders a DELETE by id: DELETE FROM t WHERE id = ? RETURNING *
func (co *Compiler) CompileDelete(table string) string {
	var w strings.Builder

	w.WriteString(`DELETE FROM `)
	w.WriteString(sanitizeIdentifier(table))
	w.WriteString(` WHERE id = ?`)
	co.d.RenderReturning(&w)

	return co.d.NumberPlaceholders(w.String())
}

// CompileSelectByID renders the post-image re-select used by dialects
// without RETURNING support: SELECT * FROM t WHERE id = ?
func (co *Compiler) CompileSelectByID(table string) string {
	var w strings.Builder

	w.WriteString(`SELECT * FROM `)
	w.WriteString(sanitizeIdentifier(table))
	w.WriteString(` WHERE id = ?`)

	return co.d.NumberPlaceholders(w.String())
}

// CompileSelectByIDs renders the batch re-select for insert-many on
// dialects without RETURNING: SELECT * FROM t WHERE id IN (?, ?, ?)
func (co *Compiler) CompileSelectByIDs(table string, n int) string {
	var w strings.Builder

	w.WriteString(`SELECT * FROM `)
	w.WriteString(sanitizeIdentifier(table))
	w.WriteString(` WHERE id IN `)
	placeholders(&w, n)

	return co.d.NumberPlaceholders(w.String())
}
