package serv

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/qbloq/livesql/core"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware on the
	// HTTP routes; the socket accepts any origin the browser let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is a client frame on the subscription socket.
type wsRequest struct {
	Type  string          `json:"type"` // subscribe | unsubscribe
	ID    string          `json:"id,omitempty"`
	Table string          `json:"table,omitempty"`
	Query json.RawMessage `json:"query,omitempty"`
}

// wsReply is a server frame: the snapshot answering a subscribe, a live
// event, or an error.
type wsReply struct {
	Type  string          `json:"type"` // snapshot | event | error
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// wsConn owns one socket: a single writer goroutine drains out while the
// handler goroutine reads requests.
type wsConn struct {
	conn *websocket.Conn
	out  chan wsReply
	done chan struct{}
	once sync.Once

	// subscription id -> table, for cleanup on close
	mu   sync.Mutex
	subs map[string]string
}

// subChannel adapts one subscription to the engine's ChannelHandle. Send
// never blocks: a peer that is gone or too far behind fails the send, which
// makes the dispatcher prune the subscription.
type subChannel struct {
	c  *wsConn
	id string
}

func (ch subChannel) Send(m json.RawMessage) error {
	select {
	case <-ch.c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case ch.c.out <- wsReply{Type: "event", ID: ch.id, Data: m}:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// subscribeHandler upgrades the connection and serves subscribe and
// unsubscribe frames until the peer goes away.
func (s *Service) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("ws: upgrade: %s", err)
		return
	}

	bufSize := s.conf.SubBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}

	c := &wsConn{
		conn: conn,
		out:  make(chan wsReply, bufSize),
		done: make(chan struct{}),
		subs: make(map[string]string),
	}

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	c.close()
	conn.Close() //nolint:errcheck

	// Deregister everything this socket subscribed to.
	c.mu.Lock()
	for id, table := range c.subs {
		s.engine.Unsubscribe(table, id) //nolint:errcheck
	}
	c.mu.Unlock()
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *Service) readLoop(ctx context.Context, c *wsConn) {
	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe":
			s.wsSubscribe(ctx, c, req)
		case "unsubscribe":
			if req.Table == "" || req.ID == "" {
				c.reply(wsReply{Type: "error", ID: req.ID, Error: "unsubscribe needs table and id"})
				continue
			}
			if err := s.engine.Unsubscribe(req.Table, req.ID); err != nil {
				c.reply(wsReply{Type: "error", ID: req.ID, Error: err.Error()})
				continue
			}
			c.mu.Lock()
			delete(c.subs, req.ID)
			c.mu.Unlock()
		default:
			c.reply(wsReply{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (s *Service) wsSubscribe(ctx context.Context, c *wsConn, req wsRequest) {
	var q core.Query
	if err := json.Unmarshal(req.Query, &q); err != nil {
		c.reply(wsReply{Type: "error", ID: req.ID, Error: err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = xid.New().String()
	}

	snapshot, err := s.engine.Subscribe(ctx, &q, id, subChannel{c: c, id: id})
	if err != nil {
		c.reply(wsReply{Type: "error", ID: id, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.subs[id] = q.Table
	c.mu.Unlock()

	c.reply(wsReply{Type: "snapshot", ID: id, Data: snapshot})
}

// reply enqueues a frame for the writer, dropping it if the socket is gone.
func (c *wsConn) reply(r wsReply) {
	select {
	case c.out <- r:
	case <-c.done:
	}
}

func (s *Service) writeLoop(c *wsConn) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case r := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteJSON(r); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
