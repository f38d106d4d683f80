package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures a RealSession.
type Options struct {
	Broker    string // e.g. tcp://192.168.1.200:1883 or ssl://broker:8883
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	TLS       *tls.Config // nil for plain TCP

	// WillTopic, if set, receives WillPayload (retained) when the broker
	// loses the session uncleanly.
	WillTopic string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// QueueSize bounds the inbound queue between Receive calls.
	QueueSize int

	// Logger receives session warnings. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultQueueSize is used when Options.QueueSize is zero.
const DefaultQueueSize = 64

// RealSession is a Session backed by an actual MQTT broker.
//
// paho delivers messages and connection loss on its own goroutines; both are
// recorded under mu and handed to the owning goroutine by Receive. Automatic
// reconnection is disabled: the Manager owns the reconnect protocol.
type RealSession struct {
	opts Options

	mu     sync.Mutex
	client paho.Client
	queue  *ringBuffer
	lost   error
}

// NewRealSession creates a session. No connection is made until Connect.
func NewRealSession(opts Options) *RealSession {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &RealSession{
		opts:  opts,
		queue: newRingBuffer(opts.QueueSize, opts.Logger),
	}
}

func (s *RealSession) clientOptions() *paho.ClientOptions {
	po := paho.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetKeepAlive(s.opts.KeepAlive).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetWriteTimeout(s.opts.WriteTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetDefaultPublishHandler(s.enqueue).
		SetConnectionLostHandler(s.connectionLost)

	if s.opts.Username != "" {
		po.SetUsername(s.opts.Username)
		po.SetPassword(s.opts.Password)
	}
	if s.opts.TLS != nil {
		po.SetTLSConfig(s.opts.TLS)
	}
	if s.opts.WillTopic != "" {
		po.SetBinaryWill(s.opts.WillTopic, WillPayload(), 1, true)
	}
	return po
}

// Connect opens a fresh client connection to the broker.
func (s *RealSession) Connect() error {
	client := paho.NewClient(s.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.lost = nil
	s.mu.Unlock()
	return nil
}

// current returns the connected client. The lock is not held while paho
// blocks, since paho's goroutines need it to deliver messages.
func (s *RealSession) current() (paho.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if s.lost != nil {
		return nil, s.lost
	}
	return s.client, nil
}

// Subscribe subscribes to topic. Messages go to the inbound queue.
func (s *RealSession) Subscribe(topic string) error {
	client, err := s.current()
	if err != nil {
		return err
	}
	token := client.Subscribe(topic, 0, nil)
	if !token.WaitTimeout(s.opts.WriteTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload. Telemetry goes out at QoS 0 (at-most-once);
// retained system events at QoS 1.
func (s *RealSession) Publish(topic string, payload []byte, retained bool) error {
	client, err := s.current()
	if err != nil {
		return err
	}
	var qos byte
	if retained {
		qos = 1
	}
	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(s.opts.WriteTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Receive drains the inbound queue. Messages queued before a connection loss
// stay queued and are returned by the first Receive after reconnecting.
func (s *RealSession) Receive() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if s.lost != nil {
		return nil, fmt.Errorf("connection lost: %w", s.lost)
	}
	if !s.client.IsConnectionOpen() {
		return nil, errors.New("connection closed")
	}
	return s.queue.drainAll(), nil
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (s *RealSession) Disconnect() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.lost = nil
	s.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	client.Disconnect(250)
	return nil
}

// IsConnected reports whether the connection is open.
func (s *RealSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.lost == nil && s.client.IsConnectionOpen()
}

func (s *RealSession) enqueue(_ paho.Client, m paho.Message) {
	msg := Message{
		Topic:     m.Topic(),
		Payload:   append([]byte(nil), m.Payload()...),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
	}
	s.mu.Lock()
	s.queue.push(msg)
	s.mu.Unlock()
}

func (s *RealSession) connectionLost(c paho.Client, err error) {
	if err == nil {
		err = errors.New("connection lost")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// ignore late callbacks from a client that was already replaced
	if c != s.client {
		return
	}
	s.lost = err
}
