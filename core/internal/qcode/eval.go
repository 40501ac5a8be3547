package qcode

import (
	"fmt"
	"strings"
)

// compare applies op with the row value on the left and the constraint
// value on the right, mirroring how the rendered SQL reads.
func compare(left Scalar, op Operator, right ScalarOrList) (bool, error) {
	if right.IsList() {
		if op != OpIn {
			return false, fmt.Errorf("operator %q does not take a list", op)
		}
		for _, rv := range right.Scalars() {
			if left.Equal(rv) {
				return true, nil
			}
		}
		return false, nil
	}

	rv := right.Scalar()
	switch op {
	case OpEqual:
		return left.Equal(rv), nil
	case OpNotEqual:
		return !left.Equal(rv), nil
	case OpLessThan:
		return left.LessThan(rv), nil
	case OpGreaterThan:
		return left.GreaterThan(rv), nil
	case OpLessOrEqual:
		return left.LessThan(rv) || left.Equal(rv), nil
	case OpGreaterOrEqual:
		return left.GreaterThan(rv) || left.Equal(rv), nil
	case OpLike, OpILike:
		if left.Kind() != KindString || rv.Kind() != KindString {
			return false, nil
		}
		if op == OpILike {
			return Like(strings.ToLower(rv.s), strings.ToLower(left.s)), nil
		}
		return Like(rv.s, left.s), nil
	case OpIn:
		return false, fmt.Errorf("operator in requires a list value")
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// Check reports whether the row satisfies the constraint. A column absent
// from the row is a programming error on the caller's side and surfaces as
// an error rather than a silent non-match.
func (c Constraint) Check(row map[string]interface{}) (bool, error) {
	v, ok := row[c.Column]
	if !ok {
		return false, fmt.Errorf("column %q not found in row", c.Column)
	}
	left, err := ScalarFromValue(v)
	if err != nil {
		return false, fmt.Errorf("column %q: %w", c.Column, err)
	}
	return compare(left, c.Op, c.Value)
}

// Check evaluates the condition tree against a row-map. And and Or
// short-circuit; an empty And is true and an empty Or is false.
func (c *Condition) Check(row map[string]interface{}) (bool, error) {
	switch c.Kind {
	case CondSingle:
		return c.Constraint.Check(row)
	case CondAnd:
		for _, child := range c.Children {
			ok, err := child.Check(row)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case CondOr:
		for _, child := range c.Children {
			ok, err := child.Check(row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown condition kind %d", c.Kind)
	}
}

// Check reports whether the row matches the query's filter. A query with no
// condition matches everything. Pagination and return kind are not
// consulted: Check answers "does this row match the filter", not "would
// this row appear in the current page".
func (q *Query) Check(row map[string]interface{}) (bool, error) {
	if q.Condition == nil {
		return true, nil
	}
	return q.Condition.Check(row)
}

// Like implements the SQL LIKE operator over the pattern and the text:
// '_' matches exactly one character, '%' matches zero or more. The other
// regex metacharacters have no special meaning.
func Like(pattern, text string) bool {
	return likeMatch([]rune(pattern), []rune(text))
}

func likeMatch(p, t []rune) bool {
	switch {
	case len(p) == 0:
		return len(t) == 0
	case p[0] == '%':
		if likeMatch(p[1:], t) {
			return true
		}
		return len(t) != 0 && likeMatch(p, t[1:])
	case len(t) == 0:
		return false
	case p[0] == '_', p[0] == t[0]:
		return likeMatch(p[1:], t[1:])
	default:
		return false
	}
}
