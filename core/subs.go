package core

import (
	"encoding/json"
	"sync"

	"github.com/qbloq/livesql/core/internal/qcode"
)

const errSubs = "subscription: %s: %s"

// ChannelHandle is the capability a transport hands to the dispatcher for
// one subscription. Send must not block; it fails when the peer is gone,
// which schedules the subscription for pruning.
type ChannelHandle interface {
	Send(json.RawMessage) error
}

type subscription struct {
	id    string
	query *qcode.Query
	ch    ChannelHandle
}

// subTable holds the live subscriptions of one table. Fan-out runs under
// the read lock; subscribe, unsubscribe and pruning take the write lock.
type subTable struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func newSubTable() *subTable {
	return &subTable{subs: make(map[string]*subscription)}
}

func (st *subTable) subscribe(id string, q *qcode.Query, ch ChannelHandle) {
	st.mu.Lock()
	st.subs[id] = &subscription{id: id, query: q, ch: ch}
	st.mu.Unlock()
}

func (st *subTable) unsubscribe(id string) {
	st.mu.Lock()
	delete(st.subs, id)
	st.mu.Unlock()
}

func (st *subTable) prune(ids []string) {
	if len(ids) == 0 {
		return
	}
	st.mu.Lock()
	for _, id := range ids {
		delete(st.subs, id)
	}
	st.mu.Unlock()
}

func (st *subTable) count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.subs)
}

// processNotification fans a change notification out to the subscriptions
// whose query accepts the mutated row(s). Channel failures never surface to
// the write-path caller; failing subscriptions are pruned after fan-out.
func (e *Engine) processNotification(n *Notification) {
	st, ok := e.subs[n.Table]
	if !ok {
		return
	}

	var failed []string

	st.mu.RLock()
	switch n.Kind {
	case OpCreate, OpDelete:
		failed = e.fanOutSingle(st, n)
	case OpUpdate:
		failed = e.fanOutUpdate(st, n)
	case OpCreateMany:
		failed = e.fanOutMany(st, n)
	}
	st.mu.RUnlock()

	st.prune(failed)
}

// fanOutSingle sends the full notification to every subscription matching
// the single affected row. Non-matching subscriptions receive nothing.
func (e *Engine) fanOutSingle(st *subTable, n *Notification) (failed []string) {
	payload, err := n.payload(n.Typed[0])
	if err != nil {
		e.log.Printf(errSubs, "marshal", err)
		return nil
	}

	row := n.Rows[0]
	for id, s := range st.subs {
		ok, err := s.query.Check(row)
		if err != nil {
			e.log.Printf(errSubs, "check", err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.ch.Send(payload); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}

// fanOutUpdate sends the update event to subscriptions matching the new
// row. A subscription that does not match receives a synthetic delete
// instead: the engine cannot tell "was matching before" from "was never
// matching", so the delete is sent unconditionally on non-match and clients
// must treat delete-of-unknown as a no-op.
func (e *Engine) fanOutUpdate(st *subTable, n *Notification) (failed []string) {
	payload, err := n.payload(n.Typed[0])
	if err != nil {
		e.log.Printf(errSubs, "marshal", err)
		return nil
	}
	evict, err := n.syntheticDelete()
	if err != nil {
		e.log.Printf(errSubs, "marshal", err)
		return nil
	}

	row := n.Rows[0]
	for id, s := range st.subs {
		ok, err := s.query.Check(row)
		if err != nil {
			e.log.Printf(errSubs, "check", err)
			continue
		}
		msg := payload
		if !ok {
			msg = evict
		}
		if err := s.ch.Send(msg); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}

// fanOutMany sends each subscription the sub-vector of created rows its
// query accepts. Subscriptions with no matching rows receive nothing.
func (e *Engine) fanOutMany(st *subTable, n *Notification) (failed []string) {
	for id, s := range st.subs {
		var matched []interface{}
		for i, row := range n.Rows {
			ok, err := s.query.Check(row)
			if err != nil {
				e.log.Printf(errSubs, "check", err)
				continue
			}
			if ok {
				matched = append(matched, n.Typed[i])
			}
		}
		if len(matched) == 0 {
			continue
		}
		payload, err := n.payload(matched)
		if err != nil {
			e.log.Printf(errSubs, "marshal", err)
			continue
		}
		if err := s.ch.Send(payload); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}
