package core

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/qbloq/livesql/core/internal/qcode"
)

// OpKind tags a granular operation or notification.
type OpKind string

const (
	OpCreate     OpKind = "create"
	OpCreateMany OpKind = "create_many"
	OpUpdate     OpKind = "update"
	OpDelete     OpKind = "delete"
)

// GranularOperation is one mutation in the engine's write vocabulary. It is
// consumed once: executed against the database and turned into a
// Notification carrying the authoritative post-image.
type GranularOperation struct {
	Kind  OpKind
	Table string
	ID    qcode.Scalar
	Data  map[string]interface{}
	Rows  []map[string]interface{}
}

func (op *GranularOperation) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type  string          `json:"type"`
		Table string          `json:"table"`
		ID    json.RawMessage `json:"id"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := GranularOperation{Kind: OpKind(raw.Type), Table: raw.Table}

	switch out.Kind {
	case OpCreate:
		data, err := qcode.DecodeObject(raw.Data)
		if err != nil {
			return err
		}
		out.Data = data
	case OpCreateMany:
		rows, err := qcode.DecodeObjectSlice(raw.Data)
		if err != nil {
			return err
		}
		out.Rows = rows
	case OpUpdate:
		data, err := qcode.DecodeObject(raw.Data)
		if err != nil {
			return err
		}
		out.Data = data
		if err := json.Unmarshal(raw.ID, &out.ID); err != nil {
			return err
		}
	case OpDelete:
		if err := json.Unmarshal(raw.ID, &out.ID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown operation type %q", raw.Type)
	}

	*op = out
	return nil
}

func (op GranularOperation) MarshalJSON() ([]byte, error) {
	w := bytes.Buffer{}
	w.WriteString(`{"type":`)
	writeJSON(&w, string(op.Kind))
	w.WriteString(`,"table":`)
	writeJSON(&w, op.Table)

	switch op.Kind {
	case OpCreate:
		w.WriteString(`,"data":`)
		writeJSON(&w, op.Data)
	case OpCreateMany:
		w.WriteString(`,"data":`)
		writeJSON(&w, op.Rows)
	case OpUpdate:
		w.WriteString(`,"id":`)
		writeJSON(&w, op.ID)
		w.WriteString(`,"data":`)
		writeJSON(&w, op.Data)
	case OpDelete:
		w.WriteString(`,"id":`)
		writeJSON(&w, op.ID)
	}
	w.WriteByte('}')
	return w.Bytes(), nil
}

func writeJSON(w *bytes.Buffer, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteString("null")
		return
	}
	w.Write(b)
}

// Notification is the post-image description of a committed mutation. Rows
// holds the generic row objects the evaluator matches against; Typed holds
// the same rows decoded through the table registry, in the same order.
type Notification struct {
	Kind  OpKind
	Table string
	ID    qcode.Scalar
	Rows  []map[string]interface{}
	Typed []interface{}
}

// MarshalJSON renders the wire envelope. `data` is a single row for create,
// update and delete, and the full row list for create_many.
func (n *Notification) MarshalJSON() ([]byte, error) {
	if n.Kind == OpCreateMany {
		return n.payload(n.Typed)
	}
	return n.payload(n.Typed[0])
}

// payload renders the notification envelope around the given data, which
// is either one typed row or a slice of them.
func (n *Notification) payload(data interface{}) (json.RawMessage, error) {
	w := bytes.Buffer{}
	w.WriteString(`{"type":`)
	writeJSON(&w, string(n.Kind))
	w.WriteString(`,"table":`)
	writeJSON(&w, n.Table)
	if n.Kind == OpUpdate || n.Kind == OpDelete {
		w.WriteString(`,"id":`)
		writeJSON(&w, n.ID)
	}
	w.WriteString(`,"data":`)
	writeJSON(&w, data)
	w.WriteByte('}')
	return w.Bytes(), nil
}

// syntheticDelete renders the delete event sent to a subscription whose
// filter no longer accepts an updated row, so the client evicts any cached
// copy. Clients must be idempotent on delete-of-unknown.
func (n *Notification) syntheticDelete() (json.RawMessage, error) {
	d := &Notification{
		Kind:  OpDelete,
		Table: n.Table,
		ID:    n.ID,
	}
	return d.payload(n.Typed[0])
}

// orderedKeys derives the key order used for column lists and value
// binding. The same order is reused for every row of a batch.
func orderedKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rowArgs binds one row's values in key order.
func rowArgs(keys []string, row map[string]interface{}, idx int) ([]interface{}, error) {
	args := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		v, ok := row[k]
		if !ok {
			return nil, fmt.Errorf("row %d is missing key %q", idx, k)
		}
		s, err := qcode.ScalarFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		args = append(args, s.Arg())
	}
	return args, nil
}

// process executes a granular operation against the database and produces
// the notification describing the resulting row(s). A nil notification with
// a nil error means the target row did not exist; nothing is dispatched.
// Writes are never retried.
func (e *Engine) process(ctx context.Context, op *GranularOperation) (*Notification, error) {
	t, err := e.table(op.Table)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case OpCreate:
		return e.processCreate(ctx, t, op)
	case OpCreateMany:
		return e.processCreateMany(ctx, t, op)
	case OpUpdate:
		return e.processUpdate(ctx, t, op)
	case OpDelete:
		return e.processDelete(ctx, t, op)
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Kind)
	}
}

func (e *Engine) processCreate(ctx context.Context, t *tableInfo, op *GranularOperation) (*Notification, error) {
	keys := orderedKeys(op.Data)
	args, err := rowArgs(keys, op.Data, 0)
	if err != nil {
		return nil, err
	}
	stmt := e.pc.CompileInsert(op.Table, keys, 1)

	var rows []map[string]interface{}

	if e.dialect.SupportsReturning() {
		rows, err = e.queryObjects(ctx, stmt, args)
		if err != nil {
			return nil, err
		}
	} else {
		res, err := e.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		id, err := insertedID(op.Data, res)
		if err != nil {
			return nil, err
		}
		rows, err = e.queryObjects(ctx, e.pc.CompileSelectByID(op.Table), []interface{}{id})
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %q returned no row", op.Table)
	}

	return e.buildNotification(t, OpCreate, qcode.Scalar{}, rows[:1])
}

func (e *Engine) processCreateMany(ctx context.Context, t *tableInfo, op *GranularOperation) (*Notification, error) {
	if len(op.Rows) == 0 {
		return nil, fmt.Errorf("create_many with no rows")
	}

	keys := orderedKeys(op.Rows[0])
	args := make([]interface{}, 0, len(keys)*len(op.Rows))
	for i, row := range op.Rows {
		rargs, err := rowArgs(keys, row, i)
		if err != nil {
			return nil, err
		}
		args = append(args, rargs...)
	}
	stmt := e.pc.CompileInsert(op.Table, keys, len(op.Rows))

	var rows []map[string]interface{}
	var err error

	if e.dialect.SupportsReturning() {
		rows, err = e.queryObjects(ctx, stmt, args)
		if err != nil {
			return nil, err
		}
	} else {
		res, err := e.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		ids, err := insertedIDs(op.Rows, res)
		if err != nil {
			return nil, err
		}
		rows, err = e.queryObjects(ctx, e.pc.CompileSelectByIDs(op.Table, len(ids)), ids)
		if err != nil {
			return nil, err
		}
	}

	return e.buildNotification(t, OpCreateMany, qcode.Scalar{}, rows)
}

func (e *Engine) processUpdate(ctx context.Context, t *tableInfo, op *GranularOperation) (*Notification, error) {
	keys := orderedKeys(op.Data)
	args, err := rowArgs(keys, op.Data, 0)
	if err != nil {
		return nil, err
	}
	args = append(args, op.ID.Arg())
	stmt := e.pc.CompileUpdate(op.Table, keys)

	var rows []map[string]interface{}

	if e.dialect.SupportsReturning() {
		rows, err = e.queryObjects(ctx, stmt, args)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
			return nil, err
		}
		rows, err = e.queryObjects(ctx, e.pc.CompileSelectByID(op.Table), []interface{}{op.ID.Arg()})
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, nil // id not found, nothing to notify
	}

	return e.buildNotification(t, OpUpdate, op.ID, rows[:1])
}

func (e *Engine) processDelete(ctx context.Context, t *tableInfo, op *GranularOperation) (*Notification, error) {
	idArg := []interface{}{op.ID.Arg()}

	var rows []map[string]interface{}
	var err error

	if e.dialect.SupportsReturning() {
		rows, err = e.queryObjects(ctx, e.pc.CompileDelete(op.Table), idArg)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
	} else {
		// No RETURNING: read the pre-image first, then delete.
		rows, err = e.queryObjects(ctx, e.pc.CompileSelectByID(op.Table), idArg)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		if _, err := e.db.ExecContext(ctx, e.pc.CompileDelete(op.Table), idArg...); err != nil {
			return nil, err
		}
	}

	return e.buildNotification(t, OpDelete, op.ID, rows[:1])
}

// buildNotification decodes the generic rows through the table registry and
// wraps both representations into a Notification.
func (e *Engine) buildNotification(t *tableInfo, kind OpKind, id qcode.Scalar, rows []map[string]interface{}) (*Notification, error) {
	typed := make([]interface{}, len(rows))
	for i, row := range rows {
		v, err := t.decodeRow(row)
		if err != nil {
			return nil, err
		}
		typed[i] = v
	}
	return &Notification{
		Kind:  kind,
		Table: t.name,
		ID:    id,
		Rows:  rows,
		Typed: typed,
	}, nil
}

// queryObjects runs a statement and scans every returned row into a generic
// row object.
func (e *Engine) queryObjects(ctx context.Context, stmt string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return scanRows(rows)
}

// insertedID resolves the id of a freshly inserted row: the client-supplied
// id when present, the driver's auto-increment id otherwise.
func insertedID(row map[string]interface{}, res sql.Result) (interface{}, error) {
	if v, ok := row["id"]; ok {
		s, err := qcode.ScalarFromValue(v)
		if err != nil {
			return nil, err
		}
		return s.Arg(), nil
	}
	return res.LastInsertId()
}

// insertedIDs resolves ids for a batch insert. When the rows don't carry
// ids the driver reports the first auto-increment id of the batch and the
// rest follow sequentially.
func insertedIDs(batch []map[string]interface{}, res sql.Result) ([]interface{}, error) {
	ids := make([]interface{}, 0, len(batch))

	if _, ok := batch[0]["id"]; ok {
		for i, row := range batch {
			v, ok := row["id"]
			if !ok {
				return nil, fmt.Errorf("row %d is missing key %q", i, "id")
			}
			s, err := qcode.ScalarFromValue(v)
			if err != nil {
				return nil, err
			}
			ids = append(ids, s.Arg())
		}
		return ids, nil
	}

	first, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	for i := range batch {
		ids = append(ids, first+int64(i))
	}
	return ids, nil
}
