package hostprobe

import (
	"context"
	"sync"

	"github.com/tarekazabou/sentineld/internal/events"
)

// FakeProbe is an in-memory Probe for tests: every capability is driven
// by fields the test sets up directly, and Watch delivers whatever the
// test sends on the per-path channel returned by FsChannel.
type FakeProbe struct {
	mu sync.Mutex

	Processes []events.ProcessSample
	Sockets   []events.Connection
	IO        map[int32]IOCounters
	Registry  map[string]map[string]string // "hive\\subkey" -> values
	Hashes    map[string]string            // path -> hash; absent means ok=false

	watchChans map[string]chan events.FsEvent
}

// NewFakeProbe returns an empty FakeProbe ready for a test to populate.
func NewFakeProbe() *FakeProbe {
	return &FakeProbe{
		IO:         make(map[int32]IOCounters),
		Registry:   make(map[string]map[string]string),
		Hashes:     make(map[string]string),
		watchChans: make(map[string]chan events.FsEvent),
	}
}

func (f *FakeProbe) EnumerateProcesses(ctx context.Context) ([]events.ProcessSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.ProcessSample, len(f.Processes))
	copy(out, f.Processes)
	return out, nil
}

func (f *FakeProbe) EnumerateSockets(ctx context.Context) ([]events.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Connection, len(f.Sockets))
	copy(out, f.Sockets)
	return out, nil
}

func (f *FakeProbe) PerProcessIO(ctx context.Context) (map[int32]IOCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]IOCounters, len(f.IO))
	for k, v := range f.IO {
		out[k] = v
	}
	return out, nil
}

// Watch returns a channel this test controls via FsChannel(path).
func (f *FakeProbe) Watch(ctx context.Context, path string, recursive bool) (<-chan events.FsEvent, error) {
	return f.FsChannel(path), nil
}

// FsChannel returns (creating if needed) the channel associated with
// path, so a test can send events into it directly.
func (f *FakeProbe) FsChannel(path string) chan events.FsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.watchChans[path]
	if !ok {
		ch = make(chan events.FsEvent, 256)
		f.watchChans[path] = ch
	}
	return ch
}

func (f *FakeProbe) ReadRegistryValues(hive, subkey string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, ok := f.Registry[hive+`\`+subkey]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

func (f *FakeProbe) ComputeFileHash(path, algorithm string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.Hashes[path]
	return h, ok
}

// SetRegistry installs the value set for hive\subkey.
func (f *FakeProbe) SetRegistry(hive, subkey string, values map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Registry[hive+`\`+subkey] = values
}
