package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carelink/internal/eventbus"
	"carelink/pkg/logx"
)

// AuthFunc validates a connection request. It receives the session id
// and token query parameters and returns false to reject.
type AuthFunc func(session, token string) bool

type HubConfig struct {
	// WriteTimeout bounds each frame write. Default 10s.
	WriteTimeout time.Duration
	// SendBuffer is the per-connection outbound queue. A client that
	// cannot drain it gets dropped. Default 32.
	SendBuffer int
}

// Hub is the server side of the push channel. It upgrades HTTP requests
// to websockets, fans notification lifecycle events out to every
// connected session, and answers client pings.
type Hub struct {
	cfg      HubConfig
	auth     AuthFunc
	bus      eventbus.Bus
	log      logx.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*hubConn]struct{}
	closed  bool
	unsub   func()
	pumpWG  sync.WaitGroup
	started bool
}

type hubConn struct {
	ws      *websocket.Conn
	send    chan Message
	done    chan struct{}
	once    sync.Once
	session string
}

func (c *hubConn) stop() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func NewHub(cfg HubConfig, auth AuthFunc, bus eventbus.Bus, log logx.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		cfg:  cfg,
		auth: auth,
		bus:  bus,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser app and API share an origin; the reverse
			// proxy enforces it upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[*hubConn]struct{}{},
	}
}

// Start subscribes the hub to the event bus. Events published before
// Start are not replayed.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	events, unsub := h.bus.Subscribe(64)
	h.unsub = unsub
	h.mu.Unlock()

	h.pumpWG.Add(1)
	go func() {
		defer h.pumpWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	}()
}

func (h *Hub) broadcast(ev eventbus.Event) {
	msg, err := NewMessage(ev.Type, ev.Data)
	if err != nil {
		h.log.Warn("unencodable event dropped", logx.String("type", ev.Type), logx.Err(err))
		return
	}
	msg.Timestamp = ev.Time

	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			h.log.Warn("dropping slow realtime consumer", logx.String("session", c.session))
			h.remove(c)
		}
	}
}

// ServeHTTP upgrades the request. Auth failures are reported with an
// application close code after the upgrade so the client can tell
// "rejected" apart from "unreachable".
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session_id")
	token := r.URL.Query().Get("token")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}

	if session == "" || token == "" || (h.auth != nil && !h.auth(session, token)) {
		h.log.Warn("realtime auth rejected", logx.String("session", session))
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailure, "unauthorized"), deadline)
		ws.Close()
		return
	}

	c := &hubConn{
		ws:      ws,
		send:    make(chan Message, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		session: session,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("realtime client connected",
		logx.String("session", session),
		logx.Int("connections", n))

	h.pumpWG.Add(1)
	go func() {
		defer h.pumpWG.Done()
		h.writePump(c)
	}()
	h.readLoop(c)
}

func (h *Hub) writePump(c *hubConn) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *hubConn) {
	defer h.remove(c)
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case TypePing:
			pong, _ := NewMessage(TypePong, nil)
			select {
			case c.send <- pong:
			default:
			}
		default:
			// Unknown inbound types are ignored, not an error.
		}
	}
}

func (h *Hub) remove(c *hubConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
	}
	h.mu.Unlock()
	c.stop()
	if ok {
		h.log.Info("realtime client gone", logx.String("session", c.session))
	}
}

// Connections reports the current client count.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close drops every client with a normal close frame and stops the
// event pump.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsub := h.unsub
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = map[*hubConn]struct{}{}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, c := range conns {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
		c.stop()
	}
	h.pumpWG.Wait()
}
