// Package psql renders the query IR into parameterized SQL. Statements are
// built with uniform '?' placeholders; the dialect's final pass renumbers
// them where needed. Values only ever flow through the parameter list.
package psql

import (
	"strings"

	"github.com/qbloq/livesql/core/internal/dialect"
	"github.com/qbloq/livesql/core/internal/qcode"
)

// Compiler renders query trees and mutation statements for one dialect.
type Compiler struct {
	d dialect.Dialect
}

func NewCompiler(d dialect.Dialect) *Compiler {
	return &Compiler{d: d}
}

type renderContext struct {
	w      strings.Builder
	params []qcode.Scalar
}

// CompileQuery renders a query tree to a SQL string and the ordered
// parameter list its placeholders bind to.
func (co *Compiler) CompileQuery(q *qcode.Query) (string, []qcode.Scalar) {
	c := &renderContext{}

	c.w.WriteString(`SELECT * FROM `)
	c.w.WriteString(sanitizeIdentifier(q.Table))

	if q.Condition != nil {
		c.w.WriteString(` WHERE `)
		c.renderCondition(q.Condition)
	}

	if q.Paginate != nil {
		c.w.WriteByte(' ')
		c.renderPaginate(q.Paginate)
	}

	return co.d.NumberPlaceholders(c.w.String()), c.params
}

func (c *renderContext) renderCondition(cond *qcode.Condition) {
	switch cond.Kind {
	case qcode.CondSingle:
		c.renderConstraint(cond.Constraint)
	case qcode.CondAnd:
		c.renderChildren(cond.Children, ` AND `)
	case qcode.CondOr:
		c.renderChildren(cond.Children, ` OR `)
	}
}

func (c *renderContext) renderChildren(children []*qcode.Condition, sep string) {
	c.w.WriteByte('(')
	for i, child := range children {
		if i != 0 {
			c.w.WriteString(sep)
		}
		c.renderCondition(child)
	}
	c.w.WriteByte(')')
}

func (c *renderContext) renderConstraint(con qcode.Constraint) {
	c.w.WriteByte('"')
	c.w.WriteString(sanitizeIdentifier(con.Column))
	c.w.WriteString(`" `)
	c.w.WriteString(string(con.Op))
	c.w.WriteByte(' ')

	if con.Value.IsList() {
		list := con.Value.Scalars()
		placeholders(&c.w, len(list))
		c.params = append(c.params, list...)
	} else {
		c.w.WriteByte('?')
		c.params = append(c.params, con.Value.Scalar())
	}
}

func (c *renderContext) renderPaginate(p *qcode.Paginate) {
	c.w.WriteString(`ORDER BY `)
	if p.OrderBy != nil {
		c.w.WriteString(sanitizeIdentifier(p.OrderBy.Column))
		if p.OrderBy.Order == qcode.OrderAsc {
			c.w.WriteString(` ASC`)
		} else {
			c.w.WriteString(` DESC`)
		}
	} else {
		c.w.WriteString(`id DESC`)
	}

	c.w.WriteString(` LIMIT ?`)
	c.params = append(c.params, qcode.IntScalar(int64(p.PerPage)))

	if p.Offset != nil {
		c.w.WriteString(` OFFSET ?`)
		c.params = append(c.params, qcode.IntScalar(int64(*p.Offset)))
	}
}
