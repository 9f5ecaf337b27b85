package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carelink/pkg/logx"
)

// State is the connection manager's externally visible state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrMissingCredentials is returned by Connect when no session or token
// has been set. The client moves to StateError and never dials.
var ErrMissingCredentials = errors.New("realtime: missing session or token")

// Handler receives inbound frames of a registered type.
type Handler func(Message)

type ClientConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	Keepalive        time.Duration // application ping interval, default 30s
	InitialPingDelay time.Duration // settle time before first ping, default 1s
	BaseDelay        time.Duration // reconnect backoff base, default 1s
	AbnormalDelay    time.Duration // backoff base after a 1006 close, default 3s
	MaxAttempts      int           // reconnect attempts before suspending, default 5
	Cooldown         time.Duration // suspension length before attempts reset, default 5m
	RateLimitDelay   time.Duration // wait after a 4429 close, default 60s
	DialTimeout      time.Duration // websocket handshake timeout, default 10s
}

func (c *ClientConfig) applyDefaults() {
	if c.Keepalive <= 0 {
		c.Keepalive = 30 * time.Second
	}
	if c.InitialPingDelay <= 0 {
		c.InitialPingDelay = time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.AbnormalDelay <= 0 {
		c.AbnormalDelay = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = 60 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Client keeps a single websocket to the hub alive, reconnecting with
// backoff after transport faults and routing inbound frames to
// registered handlers.
//
// All state transitions happen under one mutex. A generation counter is
// bumped by Connect and Disconnect; every timer callback and dial result
// checks it so work scheduled for a dead connection is dropped instead
// of clobbering a newer one.
type Client struct {
	cfg    ClientConfig
	policy backoffPolicy
	log    logx.Logger

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connDone       chan struct{}
	session        string
	token          string
	intentional    bool
	attempts       int
	rateLimited    bool
	gen            uint64
	reconnectTimer *time.Timer
	cooldownTimer  *time.Timer
	handlers       map[string][]Handler

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		policy: backoffPolicy{
			base:         cfg.BaseDelay,
			abnormalBase: cfg.AbnormalDelay,
			max:          maxReconnectDelay,
		},
		log:      log,
		handlers: map[string][]Handler{},
	}
}

// SetCredentials stores the session and auth token used on the next dial.
func (c *Client) SetCredentials(session, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.token = token
}

// OnMessage registers a handler for one frame type. Multiple handlers
// per type run in registration order.
func (c *Client) OnMessage(typ string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[typ] = append(c.handlers[typ], h)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts a connection attempt. It is single-flight: a call while
// connecting or connected is a no-op. The dial itself is asynchronous;
// observe progress via State.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.session == "" || c.token == "" {
		c.state = StateError
		c.mu.Unlock()
		c.log.Warn("connect refused, credentials not set")
		return ErrMissingCredentials
	}
	c.intentional = false
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
	return nil
}

// Disconnect closes the connection on purpose. No reconnect follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intentional = true
	c.gen++
	c.stopTimersLocked()
	c.teardownLocked(true)
	c.state = StateDisconnected
	c.log.Info("disconnected")
}

// Reconnect clears the intentional flag and the attempt counter, then
// dials fresh.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	c.intentional = false
	c.attempts = 0
	c.rateLimited = false
	c.stopTimersLocked()
	c.teardownLocked(true)
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.Connect()
}

// Send writes one frame on the current connection.
func (c *Client) Send(typ string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}
	msg, err := NewMessage(typ, data)
	if err != nil {
		return err
	}
	return c.writeJSON(conn, msg)
}

func (c *Client) dial(gen uint64) {
	c.mu.Lock()
	u, err := c.endpointLocked()
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state = StateError
		}
		c.mu.Unlock()
		c.log.Error("bad realtime endpoint", logx.Err(err))
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, resp, err := dialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return // superseded by a newer Connect/Disconnect
	}
	if err != nil {
		c.log.Warn("dial failed", logx.Err(err))
		c.scheduleReconnectLocked(false)
		return
	}

	c.conn = conn
	c.connDone = make(chan struct{})
	c.state = StateConnected
	c.attempts = 0
	c.rateLimited = false
	c.log.Info("connected", logx.String("url", c.cfg.URL))

	go c.readPump(conn, gen)
	go c.keepalive(conn, c.connDone)
}

func (c *Client) endpointLocked() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session_id", c.session)
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}

		var msg Message
		if uerr := json.Unmarshal(raw, &msg); uerr != nil || msg.Type == "" {
			// Malformed frames are dropped; the connection stays up.
			c.log.Warn("dropping malformed frame", logx.Int("bytes", len(raw)))
			continue
		}

		if msg.Type == TypePing {
			pong, _ := NewMessage(TypePong, nil)
			if werr := c.writeJSON(conn, pong); werr != nil {
				c.log.Debug("pong write failed", logx.Err(werr))
			}
			continue
		}

		c.mu.Lock()
		hs := append([]Handler(nil), c.handlers[msg.Type]...)
		known := len(hs) > 0
		c.mu.Unlock()
		if !known {
			c.log.Debug("ignoring frame of unknown type", logx.String("type", msg.Type))
			continue
		}
		for _, h := range hs {
			h(msg)
		}
	}
}

// handleReadError classifies the close and decides what happens next.
func (c *Client) handleReadError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return // an intervening Disconnect/Connect already took over
	}
	c.teardownLocked(false)

	switch {
	case c.intentional, websocket.IsCloseError(err, websocket.CloseNormalClosure):
		c.state = StateDisconnected
		c.log.Info("connection closed")

	case websocket.IsCloseError(err, CloseAuthFailure):
		// The server rejected our credentials; retrying with the same
		// ones would just burn attempts.
		c.state = StateError
		c.log.Warn("authentication rejected by server, not reconnecting")

	case websocket.IsCloseError(err, CloseRateLimited):
		if c.rateLimited {
			c.state = StateError
			c.log.Warn("rate limited again after backoff, suspending reconnects")
			return
		}
		c.rateLimited = true
		c.attempts = 0
		c.state = StateConnecting
		c.log.Warn("rate limited by server, retrying once",
			logx.Duration("delay", c.cfg.RateLimitDelay))
		c.armReconnectLocked(c.cfg.RateLimitDelay)

	default:
		abnormal := websocket.IsCloseError(err, websocket.CloseAbnormalClosure)
		c.log.Warn("connection lost", logx.Bool("abnormal", abnormal), logx.Err(err))
		c.scheduleReconnectLocked(abnormal)
	}
}

func (c *Client) scheduleReconnectLocked(abnormal bool) {
	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.state = StateError
		c.log.Warn("reconnect attempts exhausted, suspending",
			logx.Int("attempts", c.attempts-1),
			logx.Duration("cooldown", c.cfg.Cooldown))
		gen := c.gen
		c.cooldownTimer = time.AfterFunc(c.cfg.Cooldown, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if gen != c.gen || c.intentional || c.state != StateError {
				return
			}
			c.attempts = 0
			c.state = StateConnecting
			c.log.Info("cooldown elapsed, resuming reconnect attempts")
			go c.dial(gen)
		})
		return
	}

	delay := c.policy.delay(c.attempts, abnormal)
	c.state = StateConnecting
	c.log.Info("reconnect scheduled",
		logx.Int("attempt", c.attempts),
		logx.Duration("delay", delay))
	c.armReconnectLocked(delay)
}

func (c *Client) armReconnectLocked(delay time.Duration) {
	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.gen || c.intentional
		c.mu.Unlock()
		if stale {
			return
		}
		c.dial(gen)
	})
}

// keepalive sends an application-level ping shortly after connect and
// then on every Keepalive tick. The short initial delay lets the
// handshake settle before the first frame.
func (c *Client) keepalive(conn *websocket.Conn, done chan struct{}) {
	select {
	case <-time.After(c.cfg.InitialPingDelay):
	case <-done:
		return
	}
	if !c.sendPing(conn) {
		return
	}

	ticker := time.NewTicker(c.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !c.sendPing(conn) {
				return
			}
		}
	}
}

func (c *Client) sendPing(conn *websocket.Conn) bool {
	msg, _ := NewMessage(TypePing, nil)
	if err := c.writeJSON(conn, msg); err != nil {
		c.log.Debug("keepalive write failed", logx.Err(err))
		return false
	}
	return true
}

func (c *Client) writeJSON(conn *websocket.Conn, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// teardownLocked releases the current conn. sendClose writes a normal
// close frame first, which matters only for deliberate disconnects.
func (c *Client) teardownLocked(sendClose bool) {
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	if c.conn != nil {
		if sendClose {
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
}
