package core

import (
	"errors"

	"github.com/qbloq/livesql/core/internal/qcode"
)

var (
	// ErrUnknownTable means the table name is not in the registered set.
	// The dispatcher is left untouched when this is returned.
	ErrUnknownTable = errors.New("unknown table")

	// ErrIncompatibleValue means a JSON value could not be coerced to a
	// bindable scalar. The database is never touched in this case.
	ErrIncompatibleValue = qcode.ErrIncompatibleValue

	// ErrIncompatibleMap means a JSON value expected to be an object (or
	// an array of objects) was something else.
	ErrIncompatibleMap = qcode.ErrIncompatibleMap
)
