package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
)

type fakeStore struct {
	mu     sync.Mutex
	events []storedFileEvent
}

type storedFileEvent struct {
	path      string
	eventType string
	sensitive bool
	destPath  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) AddFileEvent(path, eventType string, sensitive bool, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, storedFileEvent{path, eventType, sensitive, destPath})
	return nil
}

func (f *fakeStore) snapshot() []storedFileEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storedFileEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []events.MonitorEvent
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{}
}

func (f *fakeEmitter) Submit(ev events.MonitorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeEmitter) snapshot() []events.MonitorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.MonitorEvent, len(f.events))
	copy(out, f.events)
	return out
}

func TestSensitiveFileEmitsPipelineEvent(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	store := newFakeStore()
	emitter := newFakeEmitter()

	c := New(probe, []string{"/home/u/Documents"}, []string{".key", ".pem"}, store, emitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)

	ch := probe.FsChannel("/home/u/Documents")
	ch <- events.FsEvent{Kind: events.FsCreated, SrcPath: "/home/u/Documents/id.pem"}

	waitFor(t, func() bool { return emitter.count() == 1 })

	stored := store.snapshot()
	if !stored[0].sensitive {
		t.Fatalf("expected raw event persisted as sensitive, got %+v", stored[0])
	}
	sent := emitter.snapshot()
	if sent[0].Kind != events.KindFileCreated {
		t.Fatalf("expected file_created pipeline event, got %s", sent[0].Kind)
	}
}

func TestNonSensitiveFileSkipsPipelineButPersists(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	store := newFakeStore()
	emitter := newFakeEmitter()

	c := New(probe, []string{"/home/u/Documents"}, []string{".key"}, store, emitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)

	ch := probe.FsChannel("/home/u/Documents")
	ch <- events.FsEvent{Kind: events.FsModified, SrcPath: "/home/u/Documents/notes.txt"}

	waitFor(t, func() bool { return len(store.snapshot()) == 1 })
	if emitter.count() != 0 {
		t.Fatalf("expected no pipeline event for non-sensitive file, got %d", emitter.count())
	}
}

func TestDirectoryEventsDiscarded(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	store := newFakeStore()
	emitter := newFakeEmitter()

	c := New(probe, []string{"/home/u/Documents"}, []string{".key"}, store, emitter, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)

	ch := probe.FsChannel("/home/u/Documents")
	ch <- events.FsEvent{Kind: events.FsCreated, SrcPath: "/home/u/Documents/sub", IsDir: true}
	ch <- events.FsEvent{Kind: events.FsCreated, SrcPath: "/home/u/Documents/marker.key"}

	waitFor(t, func() bool { return emitter.count() == 1 })
	if stored := store.snapshot(); len(stored) != 1 {
		t.Fatalf("expected only the file event to persist (directory discarded before persistence), got %d", len(stored))
	}
}

func TestMoveSensitivityIsORofSourceAndDest(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	store := newFakeStore()
	emitter := newFakeEmitter()

	c := New(probe, []string{"/home/u/Documents"}, []string{".key"}, store, emitter, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)

	ch := probe.FsChannel("/home/u/Documents")
	ch <- events.FsEvent{Kind: events.FsMoved, SrcPath: "/home/u/Documents/notes.txt", DestPath: "/home/u/Documents/notes.key"}

	waitFor(t, func() bool { return emitter.count() == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
