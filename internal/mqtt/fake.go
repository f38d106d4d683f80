package mqtt

import "sync"

// FakeSession is a stub broker and session for tests. It records every call
// and delivers injected messages once per active subscription, like a real
// broker with a clean session.
type FakeSession struct {
	mu sync.Mutex

	// Calls is the ordered log of operations: "connect", "subscribe <topic>",
	// "publish <topic>", "disconnect".
	Calls []string

	// SubscribeCalls counts Subscribe calls per topic.
	SubscribeCalls map[string]int

	// Published contains all successful publishes.
	Published []Published

	// ConnectErrors scripts the results of successive Connect calls; once
	// exhausted, Connect succeeds.
	ConnectErrors []error

	// SubscribeError, PublishError and DisconnectError, if set, are returned
	// by the corresponding calls.
	SubscribeError  error
	PublishError    error
	DisconnectError error

	connected     bool
	subscriptions map[string]bool
	inbound       []Message
	failReceive   error
}

// Published is a recorded publish.
type Published struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// NewFakeSession creates a disconnected FakeSession.
func NewFakeSession() *FakeSession {
	return &FakeSession{
		SubscribeCalls: make(map[string]int),
		subscriptions:  make(map[string]bool),
	}
}

// Connect opens the session, consuming the next scripted error.
func (f *FakeSession) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "connect")
	if len(f.ConnectErrors) > 0 {
		err := f.ConnectErrors[0]
		f.ConnectErrors = f.ConnectErrors[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	f.failReceive = nil
	// clean session: subscriptions do not survive a reconnect
	f.subscriptions = make(map[string]bool)
	return nil
}

// Subscribe records the subscription.
func (f *FakeSession) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "subscribe "+topic)
	f.SubscribeCalls[topic]++
	if !f.connected {
		return ErrNotConnected
	}
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subscriptions[topic] = true
	return nil
}

// Publish records the message.
func (f *FakeSession) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "publish "+topic)
	if !f.connected {
		return ErrNotConnected
	}
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Published{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

// Receive returns and clears the delivered messages.
func (f *FakeSession) Receive() ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReceive != nil {
		return nil, f.failReceive
	}
	if !f.connected {
		return nil, ErrNotConnected
	}
	msgs := f.inbound
	f.inbound = nil
	return msgs, nil
}

// Disconnect closes the session.
func (f *FakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "disconnect")
	f.connected = false
	return f.DisconnectError
}

// IsConnected reports whether the session is open.
func (f *FakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Inject simulates a message published by another client. It is delivered
// once if the topic is subscribed, and reports whether it was delivered.
func (f *FakeSession) Inject(topic, payload string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || !f.subscriptions[topic] {
		return false
	}
	f.inbound = append(f.inbound, Message{Topic: topic, Payload: []byte(payload)})
	return true
}

// Drop simulates a transport failure: the next Receive returns err and the
// session is closed.
func (f *FakeSession) Drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.failReceive = err
}

// Subscriptions returns the active subscriptions.
func (f *FakeSession) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for t := range f.subscriptions {
		out = append(out, t)
	}
	return out
}

// PublishedTo returns the payloads published to topic, in order.
func (f *FakeSession) PublishedTo(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.Published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// ResetCalls clears the call log and counters, keeping the session state.
func (f *FakeSession) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
	f.SubscribeCalls = make(map[string]int)
	f.Published = nil
}
