package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

// State is the connection lifecycle of a Manager. The Manager is its
// single writer.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// EventKind discriminates Manager events.
type EventKind int

const (
	// EventOpened fires after the transport opens and the init payload
	// has been written.
	EventOpened EventKind = iota
	// EventControl carries a parsed JSON control frame. Heartbeat pongs
	// are consumed internally and never surface here.
	EventControl
	// EventBinary carries a raw audio frame forwarded verbatim.
	EventBinary
	// EventClosed reports an intentional or normal closure.
	EventClosed
	// EventFailed is terminal: reconnect attempts are exhausted.
	EventFailed
)

// Event is delivered on the Manager's event channel.
type Event struct {
	Kind    EventKind
	Control wire.Control
	Binary  []byte
	Code    int
	Err     error
}

// ErrNotOpen is returned by sends while the channel is not open.
var ErrNotOpen = errors.New("channel: not open")

// connHandle guards per-connection teardown so the stop channel is
// closed at most once no matter which goroutine notices the death.
type connHandle struct {
	ch   chan struct{}
	once sync.Once
}

func newConnHandle() *connHandle { return &connHandle{ch: make(chan struct{})} }

func (h *connHandle) stop() { h.once.Do(func() { close(h.ch) }) }

// Config controls heartbeat and reconnection behavior.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Manager owns one bidirectional streaming connection to the interview
// server. It multiplexes JSON control messages and binary audio frames,
// reconnects with a bounded number of attempts after abnormal closures,
// and keeps the connection alive with periodic pings.
type Manager struct {
	cfg  Config
	init wire.Init

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	attempts       int
	reconnectTimer *time.Timer
	connStop       *connHandle // signals when the current transport dies
	closing        bool
	failed         bool

	events   chan Event
	outCtl   chan any
	outAudio chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Manager. Open must be called to start dialing.
func New(cfg Config, init wire.Init) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	return &Manager{
		cfg:      cfg,
		init:     init,
		state:    Disconnected,
		events:   make(chan Event, 64),
		outCtl:   make(chan any, 16),
		outAudio: make(chan []byte, 256),
		stopCh:   make(chan struct{}),
	}
}

// Events returns the channel the Manager emits on. It is never closed;
// EventClosed and EventFailed signal the terminal states.
func (m *Manager) Events() <-chan Event { return m.events }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is open for sending.
func (m *Manager) Connected() bool { return m.State() == Open }

// Open begins dialing. It returns immediately; the outcome arrives as
// an Opened or Failed event.
func (m *Manager) Open() error {
	m.mu.Lock()
	if m.state != Disconnected || m.closing {
		m.mu.Unlock()
		return fmt.Errorf("channel: open in state %s", m.state)
	}
	m.state = Connecting
	m.mu.Unlock()
	go m.dial()
	return nil
}

// SendControl queues a JSON control message.
func (m *Manager) SendControl(v any) error {
	if !m.Connected() {
		return ErrNotOpen
	}
	select {
	case m.outCtl <- v:
		return nil
	case <-m.stopCh:
		return ErrNotOpen
	}
}

// SendAudio queues a binary audio frame. Frames are dropped with a
// warning when the queue is full rather than blocking the capture path.
func (m *Manager) SendAudio(chunk []byte) error {
	if !m.Connected() {
		return ErrNotOpen
	}
	select {
	case m.outAudio <- chunk:
		return nil
	default:
		log.Warn("audio queue full, dropping chunk", "bytes", len(chunk))
		return nil
	}
}

// Close tears the channel down intentionally. Reconnection is
// suppressed and a normal-closure frame is sent when possible.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	m.state = Closing
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	connStop := m.connStop
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown"), deadline)
		_ = conn.Close()
	}
	if connStop != nil {
		connStop.stop()
	}

	m.mu.Lock()
	m.conn = nil
	m.connStop = nil
	m.state = Disconnected
	m.mu.Unlock()

	m.emit(Event{Kind: EventClosed, Code: websocket.CloseNormalClosure})
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *Manager) dial() {
	m.mu.Lock()
	m.reconnectTimer = nil
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(m.cfg.URL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Warn("stream dial failed", "url", m.cfg.URL, "status", status, "error", err)
		m.scheduleReconnect(err)
		return
	}

	// The init payload must be the first control message on the wire.
	if err := conn.WriteJSON(m.init); err != nil {
		_ = conn.Close()
		m.scheduleReconnect(fmt.Errorf("write init payload: %w", err))
		return
	}

	connStop := newConnHandle()
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.connStop = connStop
	m.state = Open
	m.mu.Unlock()

	log.Info("stream connected", "url", m.cfg.URL, "session", m.init.SessionID)
	m.emit(Event{Kind: EventOpened})

	go m.writeLoop(conn, connStop)
	go m.readLoop(conn, connStop)
}

// writeLoop is the sole writer on the transport. It drains control and
// audio queues and emits the heartbeat ping on a fixed interval.
func (m *Manager) writeLoop(conn *websocket.Conn, connStop *connHandle) {
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-connStop.ch:
			return
		case <-m.stopCh:
			return
		case v := <-m.outCtl:
			if err := conn.WriteJSON(v); err != nil {
				log.Warn("control write failed", "error", err)
				return
			}
		case chunk := <-m.outAudio:
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				log.Warn("audio write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteJSON(wire.Control{Type: wire.TypePing}); err != nil {
				log.Warn("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, connStop *connHandle) {
	defer connStop.stop()
	healthy := false
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			m.onTransportGone(conn, connStop, err)
			return
		}
		// The connection counts as healthy once the server delivers a
		// frame. Only then does the retry counter reset, so a server
		// that accepts the dial and immediately closes abnormally still
		// exhausts the attempts instead of reconnecting forever.
		if !healthy {
			healthy = true
			m.mu.Lock()
			m.attempts = 0
			m.mu.Unlock()
		}
		switch mt {
		case websocket.BinaryMessage:
			m.emit(Event{Kind: EventBinary, Binary: data})
		case websocket.TextMessage:
			msg, derr := wire.Decode(data)
			if derr != nil {
				log.Warn("dropping malformed control frame", "error", derr)
				continue
			}
			switch msg.Type {
			case wire.TypePong:
				// heartbeat ack, consumed here
			case wire.TypePing:
				// server-side keep-alive; answer without involving the engine
				select {
				case m.outCtl <- wire.Control{Type: wire.TypePong}:
				default:
				}
			default:
				m.emit(Event{Kind: EventControl, Control: msg})
			}
		}
	}
}

// onTransportGone tears down the dead transport and decides between
// quiet shutdown, a normal-closure event, and a reconnect attempt.
func (m *Manager) onTransportGone(conn *websocket.Conn, connStop *connHandle, err error) {
	_ = conn.Close()
	connStop.stop()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.connStop = nil
		m.state = Disconnected
	}
	closing := m.closing
	m.mu.Unlock()

	if closing {
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
		log.Info("stream closed normally")
		m.emit(Event{Kind: EventClosed, Code: ce.Code})
		return
	}

	code := 0
	if errors.As(err, &ce) {
		code = ce.Code
	}
	log.Warn("stream closed abnormally", "code", code, "error", err)
	m.scheduleReconnect(err)
}

// scheduleReconnect arms the single reconnect timer, or emits the
// terminal failed event once the attempts are exhausted.
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closing || m.failed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.failed = true
		m.state = Disconnected
		m.mu.Unlock()
		log.Error("stream reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts, "error", cause)
		m.emit(Event{Kind: EventFailed, Err: fmt.Errorf("channel unavailable after %d attempts: %w", m.cfg.MaxReconnectAttempts, cause)})
		m.stopOnce.Do(func() { close(m.stopCh) })
		return
	}
	m.attempts++
	m.state = Connecting
	attempt := m.attempts
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, m.dial)
	m.mu.Unlock()
	log.Info("scheduling stream reconnect", "attempt", attempt, "delay", m.cfg.ReconnectDelay)
}

// emit delivers an event to the consumer. The events channel is never
// closed; terminal states are signaled by EventClosed and EventFailed.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-time.After(5 * time.Second):
		log.Warn("event consumer stalled, dropping event", "kind", ev.Kind)
	}
}
