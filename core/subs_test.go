package core

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbloq/livesql/core/internal/qcode"
)

// recorder is a ChannelHandle that records sent payloads and can be told
// to fail like a closed peer.
type recorder struct {
	msgs   []json.RawMessage
	broken bool
}

func (r *recorder) Send(m json.RawMessage) error {
	if r.broken {
		return errors.New("channel closed")
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func testEngine() *Engine {
	return &Engine{
		subs: map[string]*subTable{"todos": newSubTable()},
		log:  log.New(io.Discard, "", 0),
	}
}

func idEquals(id int64) *qcode.Query {
	return &qcode.Query{
		Return: qcode.ReturnMany,
		Table:  "todos",
		Condition: qcode.Single(qcode.Constraint{
			Column: "id", Op: qcode.OpEqual, Value: qcode.One(qcode.IntScalar(id)),
		}),
	}
}

func todoRow(id int64, title string) map[string]interface{} {
	return map[string]interface{}{"id": id, "title": title}
}

func updateNotif(id int64, title string) *Notification {
	row := todoRow(id, title)
	return &Notification{
		Kind:  OpUpdate,
		Table: "todos",
		ID:    qcode.IntScalar(id),
		Rows:  []map[string]interface{}{row},
		Typed: []interface{}{row},
	}
}

func TestUpdateDeliveredToMatchingSubscription(t *testing.T) {
	e := testEngine()
	rec := &recorder{}
	e.subs["todos"].subscribe("s1", idEquals(2), rec)

	e.processNotification(updateNotif(2, "b2"))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"update","table":"todos","id":2,"data":{"id":2,"title":"b2"}}`,
		string(rec.msgs[0]))
}

func TestUpdateNonMatchBecomesSyntheticDelete(t *testing.T) {
	e := testEngine()
	rec := &recorder{}
	e.subs["todos"].subscribe("s1", idEquals(2), rec)

	// Row 1 does not match the id=2 filter: the subscriber gets exactly one
	// delete carrying the updated row so it can evict a stale copy.
	e.processNotification(updateNotif(1, "a2"))

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"delete","table":"todos","id":1,"data":{"id":1,"title":"a2"}}`,
		string(rec.msgs[0]))
}

func TestCreateAndDeleteFanOut(t *testing.T) {
	e := testEngine()
	match := &recorder{}
	miss := &recorder{}
	e.subs["todos"].subscribe("match", idEquals(7), match)
	e.subs["todos"].subscribe("miss", idEquals(8), miss)

	row := todoRow(7, "g")
	e.processNotification(&Notification{
		Kind: OpCreate, Table: "todos",
		Rows: []map[string]interface{}{row}, Typed: []interface{}{row},
	})
	e.processNotification(&Notification{
		Kind: OpDelete, Table: "todos", ID: qcode.IntScalar(7),
		Rows: []map[string]interface{}{row}, Typed: []interface{}{row},
	})

	require.Len(t, match.msgs, 2)
	assert.JSONEq(t,
		`{"type":"create","table":"todos","data":{"id":7,"title":"g"}}`,
		string(match.msgs[0]))
	assert.JSONEq(t,
		`{"type":"delete","table":"todos","id":7,"data":{"id":7,"title":"g"}}`,
		string(match.msgs[1]))
	assert.Empty(t, miss.msgs)
}

func TestCreateManySubVector(t *testing.T) {
	e := testEngine()
	rec := &recorder{}
	q := &qcode.Query{
		Return: qcode.ReturnMany,
		Table:  "todos",
		Condition: qcode.Single(qcode.Constraint{
			Column: "id", Op: qcode.OpIn,
			Value: qcode.List(qcode.IntScalar(1), qcode.IntScalar(3)),
		}),
	}
	e.subs["todos"].subscribe("s1", q, rec)

	rows := []map[string]interface{}{todoRow(1, "a"), todoRow(2, "b")}
	e.processNotification(&Notification{
		Kind: OpCreateMany, Table: "todos",
		Rows: rows, Typed: []interface{}{rows[0], rows[1]},
	})

	require.Len(t, rec.msgs, 1)
	assert.JSONEq(t,
		`{"type":"create_many","table":"todos","data":[{"id":1,"title":"a"}]}`,
		string(rec.msgs[0]))
}

func TestCreateManyNoMatchesSendsNothing(t *testing.T) {
	e := testEngine()
	rec := &recorder{}
	e.subs["todos"].subscribe("s1", idEquals(9), rec)

	rows := []map[string]interface{}{todoRow(5, "e"), todoRow(6, "f")}
	e.processNotification(&Notification{
		Kind: OpCreateMany, Table: "todos",
		Rows: rows, Typed: []interface{}{rows[0], rows[1]},
	})

	assert.Empty(t, rec.msgs)
}

func TestBrokenChannelIsPruned(t *testing.T) {
	e := testEngine()
	ok := &recorder{}
	broken := &recorder{broken: true}
	e.subs["todos"].subscribe("ok", idEquals(2), ok)
	e.subs["todos"].subscribe("broken", idEquals(2), broken)

	e.processNotification(updateNotif(2, "b2"))

	assert.Len(t, ok.msgs, 1)
	assert.Equal(t, 1, e.subs["todos"].count())

	e.subs["todos"].mu.RLock()
	_, stillThere := e.subs["todos"].subs["broken"]
	e.subs["todos"].mu.RUnlock()
	assert.False(t, stillThere)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	e := testEngine()
	e.subs["todos"].subscribe("s1", idEquals(1), &recorder{})

	require.NoError(t, e.Unsubscribe("todos", "s1"))
	require.NoError(t, e.Unsubscribe("todos", "s1"))
	assert.Equal(t, 0, e.subs["todos"].count())

	assert.ErrorIs(t, e.Unsubscribe("users", "s1"), ErrUnknownTable)
}

func TestSubscribeReplacesOnCollision(t *testing.T) {
	e := testEngine()
	first := &recorder{}
	second := &recorder{}
	e.subs["todos"].subscribe("s1", idEquals(2), first)
	e.subs["todos"].subscribe("s1", idEquals(2), second)

	e.processNotification(updateNotif(2, "b2"))

	assert.Empty(t, first.msgs)
	assert.Len(t, second.msgs, 1)
}

func TestEvalErrorSkipsSubscription(t *testing.T) {
	e := testEngine()
	rec := &recorder{}
	q := &qcode.Query{
		Return: qcode.ReturnMany,
		Table:  "todos",
		Condition: qcode.Single(qcode.Constraint{
			Column: "missing", Op: qcode.OpEqual, Value: qcode.One(qcode.IntScalar(1)),
		}),
	}
	e.subs["todos"].subscribe("s1", q, rec)

	e.processNotification(updateNotif(1, "a"))

	// The check fails loudly in the log but the subscription stays
	// registered and receives nothing.
	assert.Empty(t, rec.msgs)
	assert.Equal(t, 1, e.subs["todos"].count())
}
