package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/qbloq/livesql/core/internal/qcode"
)

type Todo struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func todoDecoder(row map[string]interface{}) (interface{}, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var td Todo
	if err := json.Unmarshal(b, &td); err != nil {
		return nil, err
	}
	return td, nil
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// A single connection so every statement sees the same in-memory
	// database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE todos (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT ''
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO todos (id, title) VALUES (1, 'a'), (2, 'b'), (3, 'c')`)
	require.NoError(t, err)
	return db
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(&Config{
		DBType: "sqlite",
		Tables: []Table{{Name: "todos", Decode: todoDecoder}},
	}, newTestDB(t))
	require.NoError(t, err)
	return e
}

func manyTodos() *qcode.Query {
	return &qcode.Query{Return: qcode.ReturnMany, Table: "todos"}
}

func TestFetchMany(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Fetch(context.Background(), manyTodos())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"many","data":[
		{"id":1,"title":"a","content":""},
		{"id":2,"title":"b","content":""},
		{"id":3,"title":"c","content":""}]}`, string(res))
}

func TestFetchSingle(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Fetch(context.Background(), &qcode.Query{
		Return:    qcode.ReturnSingle,
		Table:     "todos",
		Condition: qcode.Single(qcode.Constraint{Column: "id", Op: qcode.OpEqual, Value: qcode.One(qcode.IntScalar(2))}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"single","data":{"id":2,"title":"b","content":""}}`, string(res))
}

func TestFetchSingleMiss(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Fetch(context.Background(), &qcode.Query{
		Return:    qcode.ReturnSingle,
		Table:     "todos",
		Condition: qcode.Single(qcode.Constraint{Column: "id", Op: qcode.OpEqual, Value: qcode.One(qcode.IntScalar(99))}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"single","data":null}`, string(res))
}

func TestFetchPaginated(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Fetch(context.Background(), &qcode.Query{
		Return:   qcode.ReturnMany,
		Table:    "todos",
		Paginate: &qcode.Paginate{PerPage: 2},
	})
	require.NoError(t, err)
	// Default order is id DESC.
	assert.JSONEq(t, `{"type":"many","data":[
		{"id":3,"title":"c","content":""},
		{"id":2,"title":"b","content":""}]}`, string(res))
}

func TestFetchUnknownTable(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Fetch(context.Background(), &qcode.Query{Return: qcode.ReturnMany, Table: "users"})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestSubscribeReturnsSnapshotThenStreams(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}

	snapshot, err := e.Subscribe(context.Background(), idEquals(2), "s1", rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"many","data":[{"id":2,"title":"b","content":""}]}`, string(snapshot))

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"update","table":"todos","id":2,"data":{"title":"b2"}}`), &op))
	require.NoError(t, e.Execute(context.Background(), &op))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"update","table":"todos","id":2,"data":{"id":2,"title":"b2","content":""}}`,
		string(rec.msgs[0]))
}

func TestExecuteUpdateOutsideFilterSendsSyntheticDelete(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}
	_, err := e.Subscribe(context.Background(), idEquals(2), "s1", rec)
	require.NoError(t, err)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"update","table":"todos","id":1,"data":{"title":"a2"}}`), &op))
	require.NoError(t, e.Execute(context.Background(), &op))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"delete","table":"todos","id":1,"data":{"id":1,"title":"a2","content":""}}`,
		string(rec.msgs[0]))
}

func TestExecuteCreateMany(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}

	q := &qcode.Query{
		Return: qcode.ReturnMany,
		Table:  "todos",
		Condition: qcode.Single(qcode.Constraint{
			Column: "id", Op: qcode.OpIn,
			Value: qcode.List(qcode.IntScalar(5), qcode.IntScalar(99)),
		}),
	}
	_, err := e.Subscribe(context.Background(), q, "s1", rec)
	require.NoError(t, err)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"create_many","table":"todos","data":[{"id":5,"title":"e"},{"id":6,"title":"f"}]}`), &op))
	require.NoError(t, e.Execute(context.Background(), &op))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"create_many","table":"todos","data":[{"id":5,"title":"e","content":""}]}`,
		string(rec.msgs[0]))
}

func TestExecuteDeleteMissingRowIsSilent(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}
	_, err := e.Subscribe(context.Background(), manyTodos(), "s1", rec)
	require.NoError(t, err)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"delete","table":"todos","id":999}`), &op))
	require.NoError(t, e.Execute(context.Background(), &op))

	assert.Empty(t, rec.msgs)
}

func TestExecuteDeleteCarriesPreImage(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}
	_, err := e.Subscribe(context.Background(), manyTodos(), "s1", rec)
	require.NoError(t, err)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"delete","table":"todos","id":3}`), &op))
	require.NoError(t, e.Execute(context.Background(), &op))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"delete","table":"todos","id":3,"data":{"id":3,"title":"c","content":""}}`,
		string(rec.msgs[0]))

	res, err := e.Fetch(context.Background(), manyTodos())
	require.NoError(t, err)
	var envelope struct {
		Data []Todo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(res, &envelope))
	assert.Len(t, envelope.Data, 2)
}

func TestExecuteUpdateMissingIDIsNotAnError(t *testing.T) {
	e := newTestEngine(t)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"update","table":"todos","id":999,"data":{"title":"x"}}`), &op))
	assert.NoError(t, e.Execute(context.Background(), &op))
}

func TestExecuteUnknownTable(t *testing.T) {
	e := newTestEngine(t)

	var op GranularOperation
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"create","table":"users","data":{"name":"x"}}`), &op))
	assert.ErrorIs(t, e.Execute(context.Background(), &op), ErrUnknownTable)
}

// Evaluator and SQL agree: every query without pagination selects the same
// rows in memory as it does in SQLite.
func TestEvaluatorMatchesSQL(t *testing.T) {
	e := newTestEngine(t)

	queries := []*qcode.Query{
		manyTodos(),
		idEquals(2),
		{
			Return: qcode.ReturnMany,
			Table:  "todos",
			Condition: qcode.Or(
				qcode.Single(qcode.Constraint{Column: "id", Op: qcode.OpEqual, Value: qcode.One(qcode.IntScalar(1))}),
				qcode.Single(qcode.Constraint{Column: "title", Op: qcode.OpGreaterThan, Value: qcode.One(qcode.StringScalar("b"))}),
			),
		},
		{
			Return: qcode.ReturnMany,
			Table:  "todos",
			Condition: qcode.Single(qcode.Constraint{
				Column: "title", Op: qcode.OpLike, Value: qcode.One(qcode.StringScalar("_")),
			}),
		},
	}

	all, err := e.queryObjects(context.Background(), `SELECT * FROM todos`, nil)
	require.NoError(t, err)

	for _, q := range queries {
		cq, err := e.compileQuery(q)
		require.NoError(t, err)
		args := make([]interface{}, len(cq.params))
		for i, p := range cq.params {
			args[i] = p.Arg()
		}
		sqlRows, err := e.queryObjects(context.Background(), cq.sql, args)
		require.NoError(t, err)

		var memRows []map[string]interface{}
		for _, row := range all {
			ok, err := q.Check(row)
			require.NoError(t, err)
			if ok {
				memRows = append(memRows, row)
			}
		}
		assert.ElementsMatch(t, sqlRows, memRows, "query %+v", q)
	}
}

func TestCompileQueryUsesCache(t *testing.T) {
	e := newTestEngine(t)
	q := idEquals(2)

	first, err := e.compileQuery(q)
	require.NoError(t, err)
	second, err := e.compileQuery(q)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{DBType: "oracle", Tables: []Table{{Name: "t"}}}).Validate())
	assert.Error(t, (&Config{DBType: "sqlite"}).Validate())
	assert.Error(t, (&Config{DBType: "sqlite", Tables: []Table{{Name: "t"}, {Name: "t"}}}).Validate())
	assert.NoError(t, (&Config{DBType: "sqlite", Tables: []Table{{Name: "t"}}}).Validate())
}
