package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the connection state owned by the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Degraded: the session reported a failure mid-session and is waiting
	// for the reconnect protocol.
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Degraded:
		return "DEGRADED"
	}
	return "UNKNOWN"
}

// Handler receives inbound messages. It runs on the goroutine that calls
// PollInbound and must not block.
type Handler func(Message)

// ManagerConfig holds the fixed delays of the connection protocol.
type ManagerConfig struct {
	// NetworkPoll is the interval between association checks.
	NetworkPoll time.Duration
	// ReconnectDelay is the pause between disconnect and connect.
	ReconnectDelay time.Duration
	// RetryDelay is the pause after a failed reconnect sequence.
	RetryDelay time.Duration
	// Attempts is the number of reconnect sequences per Reconnect call.
	Attempts int
}

// DefaultManagerConfig returns the stock connection delays.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		NetworkPoll:    500 * time.Millisecond,
		ReconnectDelay: 1 * time.Second,
		RetryDelay:     2 * time.Second,
		Attempts:       1,
	}
}

// Manager owns the network wait and the MQTT session lifecycle: connect,
// resubscribe, failure detection and reconnection.
type Manager struct {
	session Session
	network NetworkProvider
	cfg     ManagerConfig
	log     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      State
	topics     []string
	handler    Handler
	onState    func(State)
	onConnect  func()
	reconnects int
}

// NewManager creates a disconnected Manager. A nil logger uses slog.Default().
func NewManager(session Session, network NetworkProvider, cfg ManagerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Manager{
		session: session,
		network: network,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
		handler: func(Message) {},
	}
}

// Subscribe registers topics to (re)subscribe after every connect.
// Registering a topic twice has no effect.
func (m *Manager) Subscribe(topics ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topics {
		dup := false
		for _, have := range m.topics {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			m.topics = append(m.topics, t)
		}
	}
}

// Topics returns the registered subscriptions.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

// SetHandler sets the inbound message handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// OnStateChange registers a callback for state transitions.
func (m *Manager) OnStateChange(f func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = f
}

// OnConnect registers a callback run after every successful connect and
// resubscribe, on the goroutine that called ConnectSession or Reconnect.
func (m *Manager) OnConnect(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = f
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is Connected.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Reconnects returns the number of successful reconnects.
func (m *Manager) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	cb := m.onState
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.log.Debug("mqtt state", "from", prev, "to", s)
	if cb != nil {
		cb(s)
	}
}

// ConnectNetwork waits until the network provider reports a link, polling at
// NetworkPoll. It returns *NetworkTimeoutError once timeout has elapsed.
func (m *Manager) ConnectNetwork(ctx context.Context, timeout time.Duration) (Link, error) {
	deadline := m.now().Add(timeout)
	m.log.Info("waiting for network", "timeout", timeout)
	for {
		link, err := m.network.Link(ctx)
		if err == nil {
			m.log.Info("network up", "interface", link.Interface, "addr", link.Addr)
			return link, nil
		}
		if !errors.Is(err, ErrNoLink) {
			m.log.Debug("network check failed", "err", err)
		}
		if !m.now().Before(deadline) {
			return Link{}, &NetworkTimeoutError{Timeout: timeout}
		}
		if err := m.sleep(ctx, m.cfg.NetworkPoll); err != nil {
			return Link{}, err
		}
	}
}

// ConnectSession opens the session and resubscribes every registered topic.
// If a subscription fails the session is closed again and the state is
// Disconnected. The OnConnect callback runs after a complete connect.
func (m *Manager) ConnectSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.setState(Connecting)
	if err := m.session.Connect(); err != nil {
		m.setState(Disconnected)
		return &SessionError{Op: "connect", Err: err}
	}
	m.setState(Connected)
	if err := m.Resubscribe(); err != nil {
		// unsubscribed: close it so the next poll fails into Reconnect
		if derr := m.session.Disconnect(); derr != nil {
			m.log.Debug("disconnect after failed subscribe", "err", derr)
		}
		m.setState(Disconnected)
		return err
	}

	m.mu.Lock()
	cb := m.onConnect
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// Resubscribe subscribes to every registered topic. Repeating it is
// harmless: the broker replaces existing subscriptions.
func (m *Manager) Resubscribe() error {
	for _, t := range m.Topics() {
		if err := m.session.Subscribe(t); err != nil {
			return &SessionError{Op: "subscribe " + t, Err: err}
		}
	}
	m.log.Info("subscribed", "topics", m.Topics())
	return nil
}

// PollInbound dispatches queued inbound messages to the handler without
// blocking. A transport failure moves the state to Degraded and returns
// *SessionError; the caller then runs Reconnect.
func (m *Manager) PollInbound() error {
	msgs, err := m.session.Receive()
	if err != nil {
		m.setState(Degraded)
		return &SessionError{Op: "receive", Err: err}
	}
	if m.State() == Degraded {
		// an earlier publish failure was transient
		m.setState(Connected)
	}

	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	for _, msg := range msgs {
		h(msg)
	}
	return nil
}

// Reconnect runs the reconnect protocol: disconnect (errors ignored), wait
// ReconnectDelay, connect and resubscribe. A failed sequence is followed by
// RetryDelay, up to Attempts sequences. It returns the last *SessionError if
// every attempt failed, or the context error if cancelled. It never gives up
// for good; callers retry on their next tick.
func (m *Manager) Reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		if err := m.session.Disconnect(); err != nil {
			m.log.Debug("disconnect before reconnect", "err", err)
		}
		m.setState(Disconnected)

		if err := m.sleep(ctx, m.cfg.ReconnectDelay); err != nil {
			return err
		}

		err := m.ConnectSession(ctx)
		if err == nil {
			m.mu.Lock()
			m.reconnects++
			m.mu.Unlock()
			m.log.Info("reconnected", "attempt", attempt)
			return nil
		}
		lastErr = err
		m.log.Warn("reconnect failed", "attempt", attempt, "err", err)

		if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
			return err
		}
	}
	return lastErr
}

// Publish sends a telemetry payload (not retained).
func (m *Manager) Publish(topic string, payload []byte) error {
	return m.publish(topic, payload, false)
}

// PublishRetained sends a retained payload.
func (m *Manager) PublishRetained(topic string, payload []byte) error {
	return m.publish(topic, payload, true)
}

func (m *Manager) publish(topic string, payload []byte, retained bool) error {
	if s := m.State(); s != Connected && s != Degraded {
		return &PublishError{Topic: topic, Err: ErrNotConnected}
	}
	if err := m.session.Publish(topic, payload, retained); err != nil {
		m.setState(Degraded)
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

// Close disconnects the session.
func (m *Manager) Close() error {
	err := m.session.Disconnect()
	m.setState(Disconnected)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
