package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"onairsync/internal/command"
	"onairsync/internal/logger"
	"onairsync/internal/metrics"
	"onairsync/internal/state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The display runs on a LAN kiosk; viewers are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is one frame sent to a viewer.
type message struct {
	Type     string      `json:"type"`
	State    *state.View `json:"state,omitempty"`
	OK       *bool       `json:"ok,omitempty"`
	Revision uint64      `json:"revision,omitempty"`
	Value    interface{} `json:"value,omitempty"`
	Error    *errorInfo  `json:"error,omitempty"`
}

// viewer is one WebSocket connection. latest holds at most one pending
// snapshot; a newer one replaces it. replies carries command results.
type viewer struct {
	id      string
	conn    *websocket.Conn
	latest  chan []byte
	replies chan []byte
}

// Hub fans state revisions out to viewers. A slow viewer skips intermediate
// revisions but always ends up with the newest snapshot.
type Hub struct {
	disp     Dispatcher
	log      *logger.Log
	recorder metrics.Recorder

	mu      sync.Mutex
	viewers map[string]*viewer
	last    []byte
}

func NewHub(disp Dispatcher, log *logger.Log, recorder metrics.Recorder) *Hub {
	return &Hub{
		disp:     disp,
		log:      log,
		recorder: recorder,
		viewers:  make(map[string]*viewer),
	}
}

// Run forwards store revisions to all viewers until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	states, unsubscribe := h.disp.Store().Subscribe()
	defer unsubscribe()

	h.publish(h.disp.Store().Snapshot())
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			h.publish(st)
		}
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

func (h *Hub) publish(st *state.State) {
	view := st.View(time.Now())
	frame, err := json.Marshal(message{Type: "state", State: &view})
	if err != nil {
		h.log.With(logger.Fields{"error": err.Error()}).Error("encode state")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = frame
	for _, v := range h.viewers {
		offerLatest(v.latest, frame)
	}
}

func offerLatest(ch chan []byte, frame []byte) {
	select {
	case ch <- frame:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- frame:
	default:
	}
}

// register adds v and queues the current snapshot. The offer happens under
// h.mu so a concurrent publish cannot be replaced by an older frame.
func (h *Hub) register(v *viewer) {
	h.mu.Lock()
	h.viewers[v.id] = v
	n := len(h.viewers)
	first := h.last
	if first == nil {
		view := h.disp.Store().Snapshot().View(time.Now())
		first, _ = json.Marshal(message{Type: "state", State: &view})
	}
	offerLatest(v.latest, first)
	h.mu.Unlock()

	h.recorder.SetViewers(n)
	h.log.With(logger.Fields{"viewer": v.id, "viewers": n}).Debug("viewer connected")
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v.id]
	delete(h.viewers, v.id)
	n := len(h.viewers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.recorder.SetViewers(n)
	h.log.With(logger.Fields{"viewer": v.id, "viewers": n}).Debug("viewer disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()
	for _, v := range viewers {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		v.conn.Close()
	}
}

// ServeWS upgrades the request and serves one viewer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.With(logger.Fields{"error": err.Error()}).Warn("websocket upgrade failed")
		return
	}
	v := &viewer{
		id:      uuid.NewString(),
		conn:    conn,
		latest:  make(chan []byte, 1),
		replies: make(chan []byte, 16),
	}
	h.register(v)

	done := make(chan struct{})
	go h.writePump(v, done)
	h.readPump(r.Context(), v)
	close(done)
	h.unregister(v)
}

// readPump treats every text frame as a command.
func (h *Hub) readPump(ctx context.Context, v *viewer) {
	defer v.conn.Close()
	v.conn.SetReadLimit(command.MaxPayload)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.With(logger.Fields{"viewer": v.id, "error": err.Error()}).Debug("websocket read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		res, err := h.disp.Submit(ctx, data, command.SourceHTTP)
		ok := err == nil
		reply := message{Type: "result", OK: &ok, Revision: res.Revision}
		if err != nil {
			info := newErrorInfo(err)
			reply.Error = &info
		} else {
			reply.Value = res.Value
		}
		frame, _ := json.Marshal(reply)
		select {
		case v.replies <- frame:
		default:
			h.log.With(logger.Fields{"viewer": v.id}).Warn("reply dropped, viewer too slow")
		}
	}
}

func (h *Hub) writePump(v *viewer, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()
	write := func(frame []byte) bool {
		_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return v.conn.WriteMessage(websocket.TextMessage, frame) == nil
	}
	for {
		select {
		case <-done:
			return
		case frame := <-v.replies:
			if !write(frame) {
				return
			}
		case frame := <-v.latest:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
