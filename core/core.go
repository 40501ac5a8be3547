// Package core implements the real-time query engine: a serializable query
// IR rendered to SQL or evaluated in memory, a granular write path that
// synthesizes change notifications, and a subscription dispatcher that fans
// those notifications out to live clients.
package core

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/qbloq/livesql/core/internal/dialect"
	"github.com/qbloq/livesql/core/internal/psql"
)

// Engine is the public entry point. One Engine serves one database through
// the four operations Fetch, Subscribe, Unsubscribe and Execute.
type Engine struct {
	conf    *Config
	db      *sql.DB
	dialect dialect.Dialect
	pc      *psql.Compiler
	cache   Cache
	tables  map[string]*tableInfo
	subs    map[string]*subTable
	log     *log.Logger
}

type tableInfo struct {
	name   string
	decode RowDecoder
}

// Option configures an Engine at construction.
type Option func(*Engine)

// OptionSetLogger sets the logger used for dispatcher warnings.
func OptionSetLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine on top of an opened connection pool. The pool
// is shared by reference and drives its own internal concurrency.
func NewEngine(conf *Config, db *sql.DB, options ...Option) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	d, err := dialect.Get(conf.DBType)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		conf:    conf,
		db:      db,
		dialect: d,
		pc:      psql.NewCompiler(d),
		tables:  make(map[string]*tableInfo, len(conf.Tables)),
		subs:    make(map[string]*subTable, len(conf.Tables)),
		log:     log.New(os.Stdout, "", log.LstdFlags),
	}

	for _, t := range conf.Tables {
		e.tables[t.Name] = &tableInfo{name: t.Name, decode: t.Decode}
		e.subs[t.Name] = newSubTable()
	}

	for _, op := range options {
		op(e)
	}

	if err := e.initCache(); err != nil {
		return nil, err
	}
	return e, nil
}

// table resolves a table name against the registered set.
func (e *Engine) table(name string) (*tableInfo, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, ErrUnknownTable
	}
	return t, nil
}

// decodeRow types a generic row object through the table's decoder.
func (t *tableInfo) decodeRow(row map[string]interface{}) (interface{}, error) {
	if t.decode == nil {
		return row, nil
	}
	return t.decode(row)
}

// Retry operation up to three times, pausing a fixed 50, 100, 200 ms after
// each failed attempt
func retryOperation(c context.Context, fn func() error) (err error) {
	jitter := []int{50, 100, 200}
	for i := 0; i < 3; i++ {
		if err = fn(); err == nil {
			return
		}
		if c.Err() != nil {
			return c.Err()
		}
		d := time.Duration(jitter[i])
		time.Sleep(d * time.Millisecond)
	}
	return
}
