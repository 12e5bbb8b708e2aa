package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/observe"
)

// fakeFrames is a scripted FrameSource backed by a (msgID, deviceID) set.
type fakeFrames struct {
	mu      sync.Mutex
	pending map[string]map[string]*model.Frame
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{pending: make(map[string]map[string]*model.Frame)}
}

func (f *fakeFrames) add(frame *model.Frame, deviceIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[frame.ID] == nil {
		f.pending[frame.ID] = make(map[string]*model.Frame)
	}
	for _, id := range deviceIDs {
		f.pending[frame.ID][id] = frame
	}
}

func (f *fakeFrames) PendingFrame(msgID, deviceID string) (*model.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame, ok := f.pending[msgID][deviceID]
	return frame, ok
}

func (f *fakeFrames) Ack(msgID, deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[msgID][deviceID]; !ok {
		return false
	}
	delete(f.pending[msgID], deviceID)
	return true
}

type captureRecorder struct {
	mu     sync.Mutex
	events []*observe.Event
}

func (r *captureRecorder) Record(_ context.Context, ev *observe.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *captureRecorder) count(t observe.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, frames FrameSource) (*RetryEngine, *Hub, *captureRecorder) {
	t.Helper()
	hub := NewHub(discardLogger())
	t.Cleanup(hub.Shutdown)

	rec := &captureRecorder{}
	e := NewRetryEngine(hub, frames, rec, discardLogger(),
		WithAckTimeout(20*time.Millisecond),
		WithBackoff(5*time.Millisecond, 20*time.Millisecond),
		WithMaxRetries(3),
	)
	t.Cleanup(e.Shutdown)
	hub.OnSent(e.TrackSend)
	return e, hub, rec
}

func TestAckBeforeTimeout(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1", SenderID: "sender"}
	frames.add(frame, "rcpt")

	e, hub, _ := newTestEngine(t, frames)

	sender := &fakeConn{deviceID: "sender"}
	hub.Connect("sender", sender)

	e.TrackSend("rcpt", frame)
	require.True(t, e.Tracking("m1", "rcpt"))

	e.HandleAck("rcpt", "m1", "conv-1")
	assert.False(t, e.Tracking("m1", "rcpt"))

	// The recipient's ack is removed from the pending set...
	_, pending := frames.PendingFrame("m1", "rcpt")
	assert.False(t, pending)

	// ...and the connected sender gets a delivery confirmation frame.
	waitFor(t, func() bool { return len(sender.frames()) == 1 })
	ack, ok := sender.frames()[0].(*model.AckFrame)
	require.True(t, ok)
	assert.Equal(t, "m1", ack.MessageID)
	assert.Equal(t, "delivered", ack.Status)
	assert.Equal(t, "rcpt", ack.RecipientID)
}

func TestAckForUnknownMessage(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeFrames())
	// Must not panic or track anything.
	e.HandleAck("rcpt", "no-such-msg", "")
	assert.False(t, e.Tracking("no-such-msg", "rcpt"))
}

func TestTimeoutRetriesWhileConnected(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1"}
	frames.add(frame, "rcpt")

	e, hub, _ := newTestEngine(t, frames)

	rcpt := &fakeConn{deviceID: "rcpt"}
	hub.Connect("rcpt", rcpt)

	e.TrackSend("rcpt", frame)

	// No ack arrives: the engine must re-send at least once.
	waitFor(t, func() bool { return len(rcpt.frames()) >= 1 })

	// An ack any time later stops the ladder.
	e.HandleAck("rcpt", "m1", "")
	assert.False(t, e.Tracking("m1", "rcpt"))
}

func TestRetriesExhaustedEmitsFailure(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1"}
	frames.add(frame, "rcpt")

	e, hub, rec := newTestEngine(t, frames)

	rcpt := &fakeConn{deviceID: "rcpt"}
	hub.Connect("rcpt", rcpt)

	e.TrackSend("rcpt", frame)

	waitFor(t, func() bool { return rec.count(observe.EventDeliveryFailed) == 1 })
	assert.False(t, e.Tracking("m1", "rcpt"))

	// The message itself stays pending for polling; only the push ladder
	// gave up.
	_, pending := frames.PendingFrame("m1", "rcpt")
	assert.True(t, pending)
}

func TestTimeoutAfterMessageRetired(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1"}
	frames.add(frame, "rcpt")

	e, _, rec := newTestEngine(t, frames)
	e.TrackSend("rcpt", frame)

	// Retire the message out from under the timer (e.g. it expired).
	frames.Ack("m1", "rcpt")

	waitFor(t, func() bool { return !e.Tracking("m1", "rcpt") })
	assert.Zero(t, rec.count(observe.EventDeliveryFailed))
}

func TestOfflineDeviceStopsTracking(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1"}
	frames.add(frame, "rcpt")

	e, _, rec := newTestEngine(t, frames)

	// Device never connects: first timeout schedules a resend, the resend
	// sees the device offline and drops the track.
	e.TrackSend("rcpt", frame)
	waitFor(t, func() bool { return !e.Tracking("m1", "rcpt") })

	assert.Zero(t, rec.count(observe.EventDeliveryFailed))
	_, pending := frames.PendingFrame("m1", "rcpt")
	assert.True(t, pending)
}

func TestBackoffCurve(t *testing.T) {
	e := NewRetryEngine(NewHub(discardLogger()), newFakeFrames(), &captureRecorder{}, discardLogger(),
		WithBackoff(time.Second, 60*time.Second),
	)
	defer e.Shutdown()

	assert.Equal(t, time.Second, e.backoff(1))
	assert.Equal(t, 2*time.Second, e.backoff(2))
	assert.Equal(t, 4*time.Second, e.backoff(3))
	assert.Equal(t, 32*time.Second, e.backoff(6))
	assert.Equal(t, 60*time.Second, e.backoff(7))
	assert.Equal(t, 60*time.Second, e.backoff(40))
}

func TestShutdownCancelsTimers(t *testing.T) {
	frames := newFakeFrames()
	frame := &model.Frame{ID: "m1"}
	frames.add(frame, "rcpt")

	hub := NewHub(discardLogger())
	defer hub.Shutdown()
	rec := &captureRecorder{}
	e := NewRetryEngine(hub, frames, rec, discardLogger(),
		WithAckTimeout(10*time.Millisecond),
	)

	e.TrackSend("rcpt", frame)
	e.Shutdown()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count(observe.EventDeliveryFailed))
	assert.False(t, e.Tracking("m1", "rcpt"))
}
