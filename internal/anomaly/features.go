// Package anomaly implements an isolation-forest-style estimator over
// an 11-feature vector, built from scratch. Cold until
// min_samples_for_training observations accrue, then trained and
// periodically retrained in the background without blocking the
// dispatcher.
package anomaly

import (
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
)

// featureCount is the fixed dimensionality of the feature vector.
const featureCount = 11

// featureVector is one row: [cpu_pct, memory_pct, num_connections,
// bytes_sent_delta/1024, bytes_recv_delta/1024, io_read_delta/1024,
// io_write_delta/1024, file_accesses, sensitive_file_accesses*10,
// unique_destinations, min(process_age_s/3600, 24)].
type featureVector [featureCount]float64

// pidStats accumulates the per-PID counters the feature vector needs
// beyond what a single event's payload carries: cumulative file
// accesses, sensitive file accesses, and the set of distinct remote
// destinations seen. This mirrors heuristics.ProcessActivity in shape
// but is deliberately separate state -- the anomaly model must keep
// working even if heuristics is disabled or its record has been evicted.
type pidStats struct {
	firstSeen     time.Time
	fileAccesses  int
	sensitiveHits int
	destinations  map[string]bool
}

func newPidStats(now time.Time) *pidStats {
	return &pidStats{firstSeen: now, destinations: make(map[string]bool)}
}

func (s *pidStats) observe(ev events.MonitorEvent) {
	switch p := ev.Payload.(type) {
	case events.PayloadFile:
		s.fileAccesses++
		if p.IsSensitive {
			s.sensitiveHits++
		}
	case events.PayloadSuspiciousPort:
		if p.RemoteAddress != "" {
			s.destinations[p.RemoteAddress] = true
		}
	}
}

// buildFeatures constructs the feature vector for ev given the PID's
// accumulated stats. Fields the current event's payload doesn't carry
// default to 0.
func buildFeatures(ev events.MonitorEvent, stats *pidStats, now time.Time) featureVector {
	var v featureVector

	switch p := ev.Payload.(type) {
	case events.PayloadIOActivity:
		v[0] = p.CPUPercent
		v[1] = p.MemoryPercent
		v[2] = float64(p.NumConnections)
		v[3] = float64(p.BytesSentDelta) / 1024
		v[4] = float64(p.BytesRecvDelta) / 1024
		v[5] = float64(p.ReadBytesDelta) / 1024
		v[6] = float64(p.WriteBytesDelta) / 1024
	case events.PayloadProcessLifecycle:
		// lifecycle events carry no IO/connection deltas; those stay 0.
	}

	v[7] = float64(stats.fileAccesses)
	v[8] = float64(stats.sensitiveHits) * 10
	v[9] = float64(len(stats.destinations))

	ageHours := now.Sub(stats.firstSeen).Hours()
	if ageHours > 24 {
		ageHours = 24
	}
	v[10] = ageHours

	return v
}

func pidOf(ev events.MonitorEvent) (int32, string, bool) {
	switch p := ev.Payload.(type) {
	case events.PayloadProcessLifecycle:
		return p.PID, p.ProcessName, true
	case events.PayloadIOActivity:
		return p.PID, p.ProcessName, true
	case events.PayloadSuspiciousPort:
		return p.PID, p.ProcessName, true
	case events.PayloadHighUpload:
		return p.PID, p.ProcessName, true
	}
	return 0, "", false
}
