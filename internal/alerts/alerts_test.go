package alerts

import (
	"testing"
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
)

type fakeStore struct {
	saved []events.Alert
}

func (f *fakeStore) AddAlert(a events.Alert) (string, error) {
	f.saved = append(f.saved, a)
	return "", nil
}

type fakeNotifier struct {
	notified   []events.Alert
	suppressed []int
}

func (f *fakeNotifier) Notify(a events.Alert, suppressed int) {
	f.notified = append(f.notified, a)
	f.suppressed = append(f.suppressed, suppressed)
}

func newTestSink(learningMode bool) (*Sink, *fakeStore, *fakeNotifier, *testClock) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	sink := New(store, notifier, nil, nil, learningMode)
	clock := &testClock{t: time.Now()}
	sink.now = clock.Now
	return sink, store, notifier, clock
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func TestReceivePersistsAndNotifies(t *testing.T) {
	sink, store, notifier, _ := newTestSink(false)
	sink.Receive(events.Alert{Severity: events.SeverityHigh, Description: "x"})

	if len(store.saved) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d", len(store.saved))
	}
	if len(notifier.notified) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notified))
	}
	if store.saved[0].ID == "" {
		t.Error("expected an assigned alert ID")
	}
}

func TestRateLimiterSuppressesAndAppendsCount(t *testing.T) {
	sink, _, notifier, clock := newTestSink(false)

	sink.Receive(events.Alert{Description: "a"})
	clock.t = clock.t.Add(1 * time.Second)
	sink.Receive(events.Alert{Description: "b"}) // suppressed
	clock.t = clock.t.Add(1 * time.Second)
	sink.Receive(events.Alert{Description: "c"}) // suppressed

	clock.t = clock.t.Add(5 * time.Second)
	sink.Receive(events.Alert{Description: "d"}) // admissible again

	if len(notifier.notified) != 2 {
		t.Fatalf("expected 2 delivered notifications, got %d", len(notifier.notified))
	}
	if notifier.suppressed[1] != 2 {
		t.Errorf("expected 2 suppressed alerts folded into the next notification, got %d", notifier.suppressed[1])
	}
}

func TestLearningModeSuppressesAllNotifications(t *testing.T) {
	sink, store, notifier, _ := newTestSink(true)
	sink.Receive(events.Alert{Description: "a"})
	sink.Receive(events.Alert{Description: "b"})

	if len(notifier.notified) != 0 {
		t.Fatalf("expected no notifications in learning mode, got %d", len(notifier.notified))
	}
	if len(store.saved) != 2 {
		t.Fatalf("expected alerts to still persist in learning mode, got %d", len(store.saved))
	}
}

func TestHistoryBoundedFIFO(t *testing.T) {
	sink, _, _, clock := newTestSink(true)
	for i := 0; i < historyCapacity+10; i++ {
		clock.t = clock.t.Add(time.Millisecond)
		sink.Receive(events.Alert{Description: "a"})
	}
	hist := sink.History()
	if len(hist) != historyCapacity {
		t.Fatalf("expected history bounded to %d, got %d", historyCapacity, len(hist))
	}
}
