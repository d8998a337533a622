package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/model"
)

// State is the connection manager's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrDisconnected is returned by Connect when Disconnect ran while the dial
// was in flight.
var ErrDisconnected = errors.New("live: disconnected")

// ManagerOptions configures a Manager. Only URL is required.
type ManagerOptions struct {
	URL    string      // ws:// or wss:// endpoint of the live hub
	Header http.Header // sent with every handshake (auth cookie, bearer)
	Buffer *Buffer     // receives inbound events; a fresh buffer when nil
	Dialer *websocket.Dialer
	Sender string // identity stamped on outgoing frames; generated when empty

	MaxRetries      uint // reconnect attempts after an unexpected close
	InitialInterval time.Duration
	MaxInterval     time.Duration
	WriteTimeout    time.Duration

	Logger *slog.Logger
}

// Manager owns one WebSocket to the live hub. Inbound frames land in the
// Buffer; Send writes outbound frames while connected.
type Manager struct {
	opts   ManagerOptions
	sender string
	buf    *Buffer
	log    *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
	changes chan State
}

// NewManager applies defaults to opts and returns a disconnected manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.URL == "" {
		return nil, errors.New("live: URL is required")
	}
	if opts.Buffer == nil {
		opts.Buffer = NewBuffer(DefaultCapacity)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sender == "" {
		id, err := idgen.Sender()
		if err != nil {
			return nil, fmt.Errorf("generating sender id: %w", err)
		}
		opts.Sender = id
	}
	return &Manager{
		opts:    opts,
		sender:  opts.Sender,
		buf:     opts.Buffer,
		log:     opts.Logger,
		changes: make(chan State, 16),
	}, nil
}

// Sender returns the identity this manager stamps on outgoing frames.
func (m *Manager) Sender() string { return m.sender }

// Buffer returns the buffer inbound events are ingested into.
func (m *Manager) Buffer() *Buffer { return m.buf }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateChanges delivers state transitions. Transitions are dropped when the
// reader falls behind.
func (m *Manager) StateChanges() <-chan State { return m.changes }

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	select {
	case m.changes <- s:
	default:
	}
}

// Connect dials the hub and starts reading. It returns nil without dialing
// when the manager is already connecting, connected or reconnecting.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		if conn != nil {
			conn.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		m.setStateLocked(StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.conn = conn
	m.cancel = cancel
	m.done = done
	m.setStateLocked(StateConnected)
	go m.run(runCtx, conn, gen, done)

	m.log.Info("live connected", "url", m.opts.URL, "sender", m.sender)
	return nil
}

// Disconnect closes the socket and cancels any reconnection in progress.
// Calling it on a disconnected manager does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn, cancel, done := m.conn, m.cancel, m.done
	m.conn, m.cancel, m.done = nil, nil, nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Send writes one frame built from the arguments. It returns false without
// queueing when the manager is not connected or the write fails.
func (m *Manager) Send(t model.LiveType, target string, data any) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}

	raw, err := json.Marshal(data)
	if err != nil {
		m.log.Warn("live send: encoding data", "type", t, "err", err)
		return false
	}
	ev := model.LiveEvent{
		Type:      t,
		Sender:    m.sender,
		Target:    target,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		m.log.Warn("live send failed", "type", t, "err", err)
		return false
	}
	return true
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, m.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", m.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", m.opts.URL, err)
	}
	return conn, nil
}

// run reads until the socket fails, then reconnects until the retry budget
// runs out or Disconnect cancels ctx.
func (m *Manager) run(ctx context.Context, conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		err := m.read(conn)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("live connection lost", "err", err)

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.conn = nil
		m.setStateLocked(StateReconnecting)
		m.mu.Unlock()
		conn.Close()

		next, err := m.reconnect(ctx)
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			if next != nil {
				next.Close()
			}
			return
		}
		if err != nil {
			m.cancel()
			m.cancel, m.done = nil, nil
			m.setStateLocked(StateDisconnected)
			m.mu.Unlock()
			m.log.Error("live reconnect gave up", "attempts", m.opts.MaxRetries, "err", err)
			return
		}
		m.conn = next
		m.setStateLocked(StateConnected)
		m.mu.Unlock()
		m.log.Info("live reconnected", "url", m.opts.URL)
		conn = next
	}
}

func (m *Manager) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialInterval
	b.MaxInterval = m.opts.MaxInterval
	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return m.dial(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.opts.MaxRetries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			m.log.Info("live reconnect attempt failed", "err", err, "retry_in", wait)
		}),
	)
}

func (m *Manager) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev model.LiveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			m.log.Warn("skipping malformed live frame", "err", err)
			continue
		}
		if err := model.ValidateLiveEvent(&ev); err != nil {
			m.log.Warn("skipping invalid live frame", "err", err)
			continue
		}
		if ev.IsClear() {
			m.buf.Clear(ev.Type)
			continue
		}
		m.buf.Ingest(ev)
	}
}
