package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	topicSlope  = Topics{Prefix: DefaultPrefix}.Topic(ChannelSlope)
	topicOffset = Topics{Prefix: DefaultPrefix}.Topic(ChannelOffset)
)

// testManager wires a Manager to a FakeSession with a virtual clock: sleep
// advances the clock and records the requested delay instead of waiting.
type testManager struct {
	*Manager
	session *FakeSession
	network *FakeNetwork
	clock   time.Time
	sleeps  []time.Duration
	states  []State
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()
	tm := &testManager{
		session: NewFakeSession(),
		network: &FakeNetwork{Result: Link{Interface: "wlan0", Addr: "192.168.1.50"}},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm.Manager = NewManager(tm.session, tm.network, DefaultManagerConfig(), log)
	tm.Manager.now = func() time.Time { return tm.clock }
	tm.Manager.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tm.sleeps = append(tm.sleeps, d)
		tm.clock = tm.clock.Add(d)
		return nil
	}
	tm.Manager.OnStateChange(func(s State) { tm.states = append(tm.states, s) })
	tm.Manager.Subscribe(Topics{Prefix: DefaultPrefix}.Inputs()...)
	return tm
}

func TestConnectNetworkImmediate(t *testing.T) {
	tm := newTestManager(t)

	link, err := tm.ConnectNetwork(context.Background(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", link.Interface)
	assert.Equal(t, 1, tm.network.Checks)
	assert.Empty(t, tm.sleeps)
}

func TestConnectNetworkPollsUntilUp(t *testing.T) {
	tm := newTestManager(t)
	tm.network.UpAfter = 3

	_, err := tm.ConnectNetwork(context.Background(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, tm.network.Checks)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}, tm.sleeps)
}

func TestConnectNetworkTimeout(t *testing.T) {
	tm := newTestManager(t)
	tm.network.UpAfter = -1

	_, err := tm.ConnectNetwork(context.Background(), 2*time.Second)
	var nte *NetworkTimeoutError
	require.ErrorAs(t, err, &nte)
	assert.Equal(t, 2*time.Second, nte.Timeout)
	// checks at 0, 0.5, 1.0, 1.5 and 2.0s
	assert.Equal(t, 5, tm.network.Checks)
}

func TestConnectNetworkCancelled(t *testing.T) {
	tm := newTestManager(t)
	tm.network.UpAfter = -1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tm.ConnectNetwork(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectSessionSubscribesInputs(t *testing.T) {
	tm := newTestManager(t)

	require.NoError(t, tm.ConnectSession(context.Background()))
	assert.Equal(t, Connected, tm.State())
	assert.Equal(t, []State{Connecting, Connected}, tm.states)
	assert.Equal(t, []string{"connect", "subscribe " + topicSlope, "subscribe " + topicOffset}, tm.session.Calls)
}

func TestConnectSessionFailure(t *testing.T) {
	tm := newTestManager(t)
	cause := errors.New("connection refused")
	tm.session.ConnectErrors = []error{cause}

	err := tm.ConnectSession(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "connect", se.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Disconnected, tm.State())
}

func TestConnectSessionSubscribeFailure(t *testing.T) {
	tm := newTestManager(t)
	tm.session.SubscribeError = errors.New("not authorized")

	err := tm.ConnectSession(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "subscribe "+topicSlope, se.Op)
	assert.Equal(t, Disconnected, tm.State())
	assert.False(t, tm.session.IsConnected(), "unsubscribed session closed")
}

func TestSubscribeFailureRecoversOnNextPoll(t *testing.T) {
	tm := newTestManager(t)
	tm.session.SubscribeError = errors.New("suback timeout")
	require.Error(t, tm.ConnectSession(context.Background()))
	tm.session.SubscribeError = nil

	var got []Message
	tm.SetHandler(func(m Message) { got = append(got, m) })

	// the poll must not report a healthy session without subscriptions
	err := tm.PollInbound()
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.NotEqual(t, Connected, tm.State())

	require.NoError(t, tm.Reconnect(context.Background()))
	assert.Equal(t, Connected, tm.State())
	subs := tm.session.Subscriptions()
	sort.Strings(subs)
	assert.Equal(t, []string{topicOffset, topicSlope}, subs)

	require.True(t, tm.session.Inject(topicSlope, "4300"))
	require.NoError(t, tm.PollInbound())
	assert.Len(t, got, 1)
}

func TestOnConnectRunsAfterSubscribe(t *testing.T) {
	tm := newTestManager(t)
	var subsAtConnect [][]string
	tm.OnConnect(func() { subsAtConnect = append(subsAtConnect, tm.session.Subscriptions()) })

	tm.session.SubscribeError = errors.New("not authorized")
	require.Error(t, tm.ConnectSession(context.Background()))
	assert.Empty(t, subsAtConnect, "no callback for a failed connect")

	tm.session.SubscribeError = nil
	require.NoError(t, tm.ConnectSession(context.Background()))
	require.NoError(t, tm.Reconnect(context.Background()))

	require.Len(t, subsAtConnect, 2)
	for _, subs := range subsAtConnect {
		assert.Len(t, subs, 2)
	}
}

func TestResubscribeTwiceNoDuplicateDelivery(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))

	require.NoError(t, tm.Resubscribe())
	require.NoError(t, tm.Resubscribe())

	// every call reached the broker...
	assert.Equal(t, 3, tm.session.SubscribeCalls[topicSlope])
	assert.Equal(t, 3, tm.session.SubscribeCalls[topicOffset])
	// ...but the subscription set is unchanged
	subs := tm.session.Subscriptions()
	sort.Strings(subs)
	assert.Equal(t, []string{topicOffset, topicSlope}, subs)

	var got []Message
	tm.SetHandler(func(m Message) { got = append(got, m) })
	require.True(t, tm.session.Inject(topicSlope, "4300"))
	require.NoError(t, tm.PollInbound())
	assert.Len(t, got, 1)
}

func TestSubscribeRegistrationIsDeduplicated(t *testing.T) {
	tm := newTestManager(t)
	tm.Subscribe(topicSlope, topicSlope)
	assert.Equal(t, []string{topicSlope, topicOffset}, tm.Topics())
}

func TestPollInboundDispatchesInOrder(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))

	var got []string
	tm.SetHandler(func(m Message) { got = append(got, m.Topic+"="+string(m.Payload)) })

	tm.session.Inject(topicSlope, "4300")
	tm.session.Inject(topicOffset, "-87000")
	assert.False(t, tm.session.Inject("picofan/input/other", "1"), "not subscribed")

	require.NoError(t, tm.PollInbound())
	assert.Equal(t, []string{topicSlope + "=4300", topicOffset + "=-87000"}, got)

	// queue drained
	got = nil
	require.NoError(t, tm.PollInbound())
	assert.Empty(t, got)
}

func TestPollInboundTransportFailure(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))
	cause := errors.New("ECONNRESET")
	tm.session.Drop(cause)

	err := tm.PollInbound()
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "receive", se.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Degraded, tm.State())
}

func TestReconnectSingleSequence(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))
	tm.session.Drop(errors.New("ECONNRESET"))
	require.Error(t, tm.PollInbound())
	tm.session.ResetCalls()
	tm.states = nil

	require.NoError(t, tm.Reconnect(context.Background()))

	assert.Equal(t, []string{
		"disconnect",
		"connect",
		"subscribe " + topicSlope,
		"subscribe " + topicOffset,
	}, tm.session.Calls)
	assert.Equal(t, []time.Duration{time.Second}, tm.sleeps)
	assert.Equal(t, []State{Disconnected, Connecting, Connected}, tm.states)
	assert.Equal(t, 1, tm.Reconnects())

	subs := tm.session.Subscriptions()
	sort.Strings(subs)
	assert.Equal(t, []string{topicOffset, topicSlope}, subs)

	require.NoError(t, tm.PollInbound(), "polling resumes")
}

func TestReconnectIgnoresDisconnectError(t *testing.T) {
	tm := newTestManager(t)
	tm.session.DisconnectError = errors.New("already closed")

	require.NoError(t, tm.Reconnect(context.Background()))
	assert.Equal(t, Connected, tm.State())
}

func TestReconnectFailureWaitsRetryDelay(t *testing.T) {
	tm := newTestManager(t)
	tm.session.ConnectErrors = []error{errors.New("refused")}

	err := tm.Reconnect(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, tm.sleeps)
	assert.Equal(t, Disconnected, tm.State())
	assert.Equal(t, 0, tm.Reconnects())

	// the next call (next loop tick) succeeds
	require.NoError(t, tm.Reconnect(context.Background()))
	assert.Equal(t, 1, tm.Reconnects())
}

func TestReconnectMultipleAttempts(t *testing.T) {
	tm := newTestManager(t)
	tm.cfg.Attempts = 3
	tm.session.ConnectErrors = []error{errors.New("refused"), errors.New("refused")}

	require.NoError(t, tm.Reconnect(context.Background()))
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second,
		time.Second,
	}, tm.sleeps)
}

func TestReconnectCancelled(t *testing.T) {
	tm := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tm.Reconnect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"disconnect"}, tm.session.Calls)
}

func TestPublish(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))

	require.NoError(t, tm.Publish("picofan/output/temperature", []byte("22.5")))
	require.NoError(t, tm.PublishRetained("picofan/system", []byte("{}")))

	require.Len(t, tm.session.Published, 2)
	assert.False(t, tm.session.Published[0].Retained)
	assert.True(t, tm.session.Published[1].Retained)
}

func TestPublishWhileDisconnected(t *testing.T) {
	tm := newTestManager(t)

	err := tm.Publish("picofan/output/temperature", []byte("22.5"))
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tm.session.Calls, "session not touched")
}

func TestPublishFailureDegradesUntilNextPoll(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))
	tm.session.PublishError = errors.New("write timeout")

	err := tm.Publish("picofan/output/temperature", []byte("22.5"))
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "picofan/output/temperature", pe.Topic)
	assert.Equal(t, Degraded, tm.State())

	tm.session.PublishError = nil
	require.NoError(t, tm.PollInbound())
	assert.Equal(t, Connected, tm.State())
}

func TestClose(t *testing.T) {
	tm := newTestManager(t)
	require.NoError(t, tm.ConnectSession(context.Background()))

	require.NoError(t, tm.Close())
	assert.Equal(t, Disconnected, tm.State())
	assert.False(t, tm.session.IsConnected())
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), 0))
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
