package core

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/qbloq/livesql/core/internal/qcode"
)

// Query is the serializable read plan accepted by Fetch and Subscribe.
type Query = qcode.Query

// compileQuery renders a query to SQL, consulting the compiled statement
// cache first. Pure rendering never touches the database.
func (e *Engine) compileQuery(q *qcode.Query) (*compiled, error) {
	key, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}

	if v, ok := e.cache.Get(string(key)); ok {
		return v, nil
	}

	stmt, params := e.pc.CompileQuery(q)
	v := &compiled{sql: stmt, params: params}
	e.cache.Set(string(key), v)
	return v, nil
}

// Fetch renders the query, executes it and serializes the typed rows into
// the read response envelope:
// {"type":"single","data":obj|null} or {"type":"many","data":[obj,...]}.
func (e *Engine) Fetch(ctx context.Context, q *Query) (json.RawMessage, error) {
	t, err := e.table(q.Table)
	if err != nil {
		return nil, err
	}

	cq, err := e.compileQuery(q)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, len(cq.params))
	for i, p := range cq.params {
		args[i] = p.Arg()
	}

	var rows []map[string]interface{}
	err = retryOperation(ctx, func() (err1 error) {
		rows, err1 = e.queryObjects(ctx, cq.sql, args)
		return
	})
	if err != nil {
		return nil, err
	}

	return serializeRows(t, q.Return, rows)
}

// serializeRows wraps typed rows in the response envelope for the query's
// return kind.
func serializeRows(t *tableInfo, kind qcode.ReturnKind, rows []map[string]interface{}) (json.RawMessage, error) {
	w := bytes.Buffer{}

	if kind == qcode.ReturnSingle {
		w.WriteString(`{"type":"single","data":`)
		if len(rows) == 0 {
			w.WriteString("null")
		} else {
			typed, err := t.decodeRow(rows[0])
			if err != nil {
				return nil, err
			}
			writeJSON(&w, typed)
		}
		w.WriteByte('}')
		return w.Bytes(), nil
	}

	w.WriteString(`{"type":"many","data":[`)
	for i, row := range rows {
		if i != 0 {
			w.WriteByte(',')
		}
		typed, err := t.decodeRow(row)
		if err != nil {
			return nil, err
		}
		writeJSON(&w, typed)
	}
	w.WriteString(`]}`)
	return w.Bytes(), nil
}

// Subscribe fetches the initial snapshot for the query, then registers the
// subscription so live events start flowing. Registration happens strictly
// after the snapshot read, so the first live event a client sees is never
// older than its snapshot. Events committed between the snapshot read and
// registration are not replayed; clients needing gap-free streams should
// re-fetch on reconnect.
func (e *Engine) Subscribe(ctx context.Context, q *Query, id string, ch ChannelHandle) (json.RawMessage, error) {
	snapshot, err := e.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	e.subs[q.Table].subscribe(id, q, ch)
	return snapshot, nil
}

// Unsubscribe removes a subscription. Removing an id that is not
// registered is a no-op.
func (e *Engine) Unsubscribe(table, id string) error {
	st, ok := e.subs[table]
	if !ok {
		return ErrUnknownTable
	}
	st.unsubscribe(id)
	return nil
}

// Execute runs a granular operation against the database and dispatches
// the resulting notification, if any, to matching subscriptions. Dispatch
// failures never fail the write: a broken channel only prunes its
// subscription.
func (e *Engine) Execute(ctx context.Context, op *GranularOperation) error {
	n, err := e.process(ctx, op)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	e.processNotification(n)
	return nil
}
