// Package hostprobe abstracts every OS-level query the collectors need:
// a small capability interface per primitive so tests can substitute
// fakes and production wires the OS-backed implementation (gopsutil/v4,
// fsnotify, golang.org/x/sys/windows/registry).
package hostprobe

import (
	"context"

	"github.com/tarekazabou/sentineld/internal/events"
)

// IOCounters is the cumulative read/write byte count for one process
// since it started, as reported by the OS.
type IOCounters struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// ProcessEnumerator snapshots every visible process. Individual sample
// fields may be zero-valued when the OS denied access to them; callers
// must not treat a zero value as a reliable "process used none of this
// resource" signal unless the corresponding Has* flag says so.
type ProcessEnumerator interface {
	EnumerateProcesses(ctx context.Context) ([]events.ProcessSample, error)
}

// SocketEnumerator snapshots every socket with an owning PID. Sockets
// the OS cannot attribute to a PID are discarded before they reach the
// caller.
type SocketEnumerator interface {
	EnumerateSockets(ctx context.Context) ([]events.Connection, error)
}

// IOCounter reports cumulative per-process I/O counters.
type IOCounter interface {
	PerProcessIO(ctx context.Context) (map[int32]IOCounters, error)
}

// DirectoryWatcher subscribes to filesystem changes under path. The
// returned channel is closed when ctx is canceled. Directory-level events
// (as opposed to file events) are not filtered here; the file collector
// discards them.
type DirectoryWatcher interface {
	Watch(ctx context.Context, path string, recursive bool) (<-chan events.FsEvent, error)
}

// RegistryReader reads a set of value names under a hive/subkey pair.
// On non-Windows platforms, implementations return an empty map and no
// error, and the daemon does not start the registry collector there.
type RegistryReader interface {
	ReadRegistryValues(hive, subkey string) (map[string]string, error)
}

// FileHasher computes a hex-encoded digest of a file's contents. A
// failure (permission, vanished file) is reported as ok=false rather
// than an error.
type FileHasher interface {
	ComputeFileHash(path, algorithm string) (hash string, ok bool)
}

// Probe bundles every capability a production or fake host exposes.
type Probe interface {
	ProcessEnumerator
	SocketEnumerator
	IOCounter
	DirectoryWatcher
	RegistryReader
	FileHasher
}
