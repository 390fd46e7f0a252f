// Package heuristics implements the per-PID correlation engine that
// sits between the Rules Engine and the Anomaly Model in the fixed
// detection order. It maintains a bounded ProcessActivity record per PID
// and evaluates 9 correlation patterns against it on every event.
package heuristics

import (
	"time"
)

const (
	fileBufferCap     = 100
	networkBufferCap  = 100
	registryBufferCap = 50

	defaultCorrelationWindow = 60 * time.Second
	defaultCooldown          = 60 * time.Second
)

// fileAccess is one bounded-buffer entry recording a file-scope event.
type fileAccess struct {
	at          time.Time
	path        string
	isSensitive bool
}

// networkAccess is one bounded-buffer entry recording a network-scope
// event.
type networkAccess struct {
	at            time.Time
	remoteAddress string
	bytesUploaded uint64
}

// registryAccess is one bounded-buffer entry recording a registry-scope
// event.
type registryAccess struct {
	at      time.Time
	keyPath string
}

// ProcessActivity is the per-PID correlation state: bounded
// time-ordered buffers plus running aggregates. RiskScore is
// monotonically non-decreasing until the PID is evicted.
type ProcessActivity struct {
	PID         int32
	ProcessName string
	IsTrusted   bool
	FirstSeen   time.Time
	LastSeen    time.Time

	files      []fileAccess
	network    []networkAccess
	registry   []registryAccess
	uniqueDest map[string]bool

	SensitiveFilesAccessed int
	BytesUploaded          uint64
	RiskScore              float64
}

func newProcessActivity(pid int32, name string, trusted bool, now time.Time) *ProcessActivity {
	return &ProcessActivity{
		PID: pid, ProcessName: name, IsTrusted: trusted,
		FirstSeen: now, LastSeen: now,
		uniqueDest: make(map[string]bool),
	}
}

func (a *ProcessActivity) raiseRisk(score float64) {
	if score > a.RiskScore {
		a.RiskScore = score
	}
}

func (a *ProcessActivity) recordFile(now time.Time, path string, sensitive bool) {
	a.files = append(a.files, fileAccess{at: now, path: path, isSensitive: sensitive})
	if len(a.files) > fileBufferCap {
		a.files = a.files[len(a.files)-fileBufferCap:]
	}
	if sensitive {
		a.SensitiveFilesAccessed++
	}
}

func (a *ProcessActivity) recordNetwork(now time.Time, remoteAddress string, bytesUploaded uint64) {
	a.network = append(a.network, networkAccess{at: now, remoteAddress: remoteAddress, bytesUploaded: bytesUploaded})
	if len(a.network) > networkBufferCap {
		a.network = a.network[len(a.network)-networkBufferCap:]
	}
	a.BytesUploaded += bytesUploaded
	if remoteAddress != "" {
		a.uniqueDest[remoteAddress] = true
	}
}

func (a *ProcessActivity) recordRegistry(now time.Time, keyPath string) {
	a.registry = append(a.registry, registryAccess{at: now, keyPath: keyPath})
	if len(a.registry) > registryBufferCap {
		a.registry = a.registry[len(a.registry)-registryBufferCap:]
	}
}

func (a *ProcessActivity) age(now time.Time) time.Duration {
	return now.Sub(a.FirstSeen)
}

// prune drops per-field buffer entries older than the cutoff, matching the
// "2 x correlation_window" staleness rule applied to the whole record by
// the Engine (per-record eviction happens at the Engine level; this trims
// the sub-buffers so long-lived PIDs don't accumulate stale entries
// inside the window either).
func (a *ProcessActivity) prune(cutoff time.Time) {
	a.files = dropBefore(a.files, cutoff, func(f fileAccess) time.Time { return f.at })
	a.network = dropBeforeNetwork(a.network, cutoff)
	a.registry = dropBeforeRegistry(a.registry, cutoff)
}

func dropBefore(in []fileAccess, cutoff time.Time, at func(fileAccess) time.Time) []fileAccess {
	i := 0
	for i < len(in) && at(in[i]).Before(cutoff) {
		i++
	}
	return in[i:]
}

func dropBeforeNetwork(in []networkAccess, cutoff time.Time) []networkAccess {
	i := 0
	for i < len(in) && in[i].at.Before(cutoff) {
		i++
	}
	return in[i:]
}

func dropBeforeRegistry(in []registryAccess, cutoff time.Time) []registryAccess {
	i := 0
	for i < len(in) && in[i].at.Before(cutoff) {
		i++
	}
	return in[i:]
}

func (a *ProcessActivity) fileAccessesSince(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, f := range a.files {
		if !f.at.Before(cutoff) {
			n++
		}
	}
	return n
}

func (a *ProcessActivity) hasFileContaining(substrs ...string) bool {
	for _, f := range a.files {
		if containsAnyFold(f.path, substrs) {
			return true
		}
	}
	return false
}

func (a *ProcessActivity) matchingFile(substrs ...string) (fileAccess, bool) {
	for _, f := range a.files {
		if containsAnyFold(f.path, substrs) {
			return f, true
		}
	}
	return fileAccess{}, false
}

func (a *ProcessActivity) hasUploadAfter(t time.Time) bool {
	for _, n := range a.network {
		if n.bytesUploaded > 0 && n.at.After(t) {
			return true
		}
	}
	return false
}
