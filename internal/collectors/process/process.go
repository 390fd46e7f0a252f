// Package process implements the Process Collector: a periodic
// snapshot loop that classifies every process as a new arrival, a
// PID-reused hijack, a mutated identity, or a known process whose
// behavior is evaluated for I/O and connection-count anomalies.
package process

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
	"github.com/tarekazabou/sentineld/internal/metrics"
	"github.com/tarekazabou/sentineld/internal/trust"
)

const (
	newArrivalWindow = 60 * time.Second

	untrustedReadWriteThreshold = 10 * 1024 * 1024
	trustedReadWriteThreshold   = 100 * 1024 * 1024
	untrustedConnectionLimit    = 50
	trustedConnectionLimit      = 200
)

var suspiciousCommandLinePatterns = []string{
	"powershell", "wget", "curl", "invoke-", "-enc", "base64", "downloadstring", "iex", "mimikatz",
}

// fingerprint is the collector's own record of a known PID, owned
// exclusively by this package.
type fingerprint struct {
	name       string
	path       string
	createTime float64
	isTrusted  bool
	readBytes  uint64
	writeBytes uint64
}

// TrustRegistry is the subset of *trust.Registry the collector needs.
type TrustRegistry interface {
	IsTrusted(name, path, hash string) bool
}

// Recorder is the subset of *store.Store used to upsert the durable
// process fingerprint record.
type Recorder interface {
	RecordProcess(r events.ProcessRecord) error
}

// Emitter matches dispatcher.Dispatcher's Submit method.
type Emitter interface {
	Submit(ev events.MonitorEvent)
}

// Collector runs the periodic process snapshot loop.
type Collector struct {
	probe    hostprobe.ProcessEnumerator
	hasher   hostprobe.FileHasher
	trust    TrustRegistry
	store    Recorder
	emitter  Emitter
	metrics  *metrics.Metrics
	log      *logrus.Logger
	interval time.Duration

	known map[int32]*fingerprint
	now   func() time.Time
}

// New builds a Collector. interval is process_interval_s (default 5s).
func New(probe hostprobe.ProcessEnumerator, hasher hostprobe.FileHasher, tr TrustRegistry, store Recorder, emitter Emitter, m *metrics.Metrics, log *logrus.Logger, interval time.Duration) *Collector {
	return &Collector{
		probe: probe, hasher: hasher, trust: tr, store: store, emitter: emitter,
		metrics: m, log: log, interval: interval,
		known: make(map[int32]*fingerprint),
		now:   time.Now,
	}
}

// Run ticks every interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CollectorTickSeconds.WithLabelValues("process").Observe(time.Since(start).Seconds())
		}
	}()

	samples, err := c.probe.EnumerateProcesses(ctx)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("process collector: scan-wide failure, skipping tick")
		}
		return
	}

	seen := make(map[int32]bool, len(samples))
	for _, s := range samples {
		seen[s.PID] = true
		c.classify(s)
	}

	for pid := range c.known {
		if !seen[pid] {
			delete(c.known, pid)
		}
	}
}

func (c *Collector) classify(s events.ProcessSample) {
	defer func() {
		// A single bad sample must never take down the whole tick.
		if r := recover(); r != nil && c.log != nil {
			c.log.WithField("panic", r).Error("process collector: recovered from per-process failure")
		}
	}()

	fp, known := c.known[s.PID]
	if !known {
		c.handleNewArrival(s)
		return
	}

	if s.HasCreateTime && fp.createTime != 0 && s.CreateTime != fp.createTime {
		c.emit(s.PID, events.KindPIDHijack, 80, s, fp)
		c.handleNewArrival(s)
		return
	}

	if s.Name != fp.name || (s.HasPath && fp.path != "" && s.ExecutablePath != fp.path) {
		c.emit(s.PID, events.KindProcessMutation, 90, s, fp)
		fp.name = s.Name
		fp.path = s.ExecutablePath
		return
	}

	c.evaluateBehavior(s, fp)
}

func (c *Collector) handleNewArrival(s events.ProcessSample) {
	hash := ""
	if !trust.SpecialProcessNames[s.Name] && s.HasPath && s.ExecutablePath != "" {
		if h, ok := c.hasher.ComputeFileHash(s.ExecutablePath, "sha256"); ok {
			hash = h
		}
	}

	isTrusted := c.trust != nil && c.trust.IsTrusted(s.Name, s.ExecutablePath, hash)
	risk := riskScore(s, isTrusted)

	fp := &fingerprint{
		name: s.Name, path: s.ExecutablePath, createTime: s.CreateTime,
		isTrusted: isTrusted, readBytes: s.ReadBytes, writeBytes: s.WriteBytes,
	}
	c.known[s.PID] = fp

	if c.store != nil {
		now := c.now()
		_ = c.store.RecordProcess(events.ProcessRecord{
			Name: s.Name, ExecutablePath: s.ExecutablePath, LastPID: s.PID,
			HashSHA256: hash, FirstSeen: now, LastSeen: now, IsTrusted: isTrusted, RiskScore: risk,
		})
	}

	if !isTrusted && s.HasCreateTime {
		age := c.now().Sub(epochToTime(s.CreateTime))
		if age < newArrivalWindow {
			c.emitter.Submit(events.MonitorEvent{
				Source:      events.SourceProcess,
				Kind:        events.KindNewProcess,
				MonotonicTS: monotonicNow(),
				Payload: events.PayloadProcessLifecycle{
					PID: s.PID, ProcessName: s.Name, Path: s.ExecutablePath, User: s.User,
					Cmdline: s.CommandLine, IsTrusted: isTrusted, RiskScore: risk,
					ProcessAgeS: age.Seconds(),
				},
				PreliminaryRisk: risk,
			})
		}
	}
}

func (c *Collector) evaluateBehavior(s events.ProcessSample, fp *fingerprint) {
	readDelta := deltaUint64(s.ReadBytes, fp.readBytes)
	writeDelta := deltaUint64(s.WriteBytes, fp.writeBytes)
	fp.readBytes = s.ReadBytes
	fp.writeBytes = s.WriteBytes

	ioThreshold := uint64(untrustedReadWriteThreshold)
	connLimit := untrustedConnectionLimit
	ioKind := events.KindHighIO
	if fp.isTrusted {
		ioThreshold = trustedReadWriteThreshold
		connLimit = trustedConnectionLimit
		ioKind = events.KindAnomalyTrusted
	}

	if readDelta > ioThreshold || writeDelta > ioThreshold {
		c.emitter.Submit(events.MonitorEvent{
			Source: events.SourceProcess, Kind: ioKind, MonotonicTS: monotonicNow(),
			Payload: events.PayloadIOActivity{
				PID: s.PID, ProcessName: s.Name, Path: s.ExecutablePath,
				ReadBytesDelta: readDelta, WriteBytesDelta: writeDelta,
				NumConnections: s.NumConnections, IsTrusted: fp.isTrusted,
				CPUPercent: s.CPUPercent, MemoryPercent: s.MemoryPercent,
			},
		})
	}

	if s.NumConnections > connLimit {
		c.emitter.Submit(events.MonitorEvent{
			Source: events.SourceProcess, Kind: events.KindManyConnections, MonotonicTS: monotonicNow(),
			Payload: events.PayloadIOActivity{
				PID: s.PID, ProcessName: s.Name, Path: s.ExecutablePath,
				NumConnections: s.NumConnections, IsTrusted: fp.isTrusted,
				CPUPercent: s.CPUPercent, MemoryPercent: s.MemoryPercent,
			},
		})
	}
}

func (c *Collector) emit(pid int32, kind string, risk float64, s events.ProcessSample, fp *fingerprint) {
	c.emitter.Submit(events.MonitorEvent{
		Source: events.SourceProcess, Kind: kind, MonotonicTS: monotonicNow(),
		Payload: events.PayloadProcessLifecycle{
			PID: pid, ProcessName: s.Name, Path: s.ExecutablePath,
			OldName: fp.name, OldPath: fp.path, RiskScore: risk, IsTrusted: fp.isTrusted,
		},
		PreliminaryRisk: risk,
	})
}

// riskScore implements the deterministic risk scoring function.
func riskScore(s events.ProcessSample, isTrusted bool) float64 {
	if isTrusted {
		risk := 0.0
		if s.NumConnections > 100 {
			risk += min(30, float64(s.NumConnections-100)*0.3)
		}
		if s.WriteBytes > 500*1024*1024 {
			risk += 20
		}
		if s.CPUPercent > 90 {
			risk += 10
		}
		return clamp(risk, 0, 50)
	}

	risk := 0.0
	if !s.HasPath || s.ExecutablePath == "" {
		risk += 20
	}
	risk += min(20, float64(s.NumConnections)*0.5)
	risk += min(15, s.MemoryPercent)
	if s.CPUPercent > 50 {
		risk += min(15, (s.CPUPercent-50)*0.3)
	}
	if s.WriteBytes > 50*1024*1024 {
		risk += 15
	}
	if containsSuspiciousPattern(s.CommandLine) {
		risk += 15
	}
	return clamp(risk, 0, 100)
}

func containsSuspiciousPattern(cmdline []string) bool {
	joined := strings.ToLower(strings.Join(cmdline, " "))
	for _, p := range suspiciousCommandLinePatterns {
		if strings.Contains(joined, p) {
			return true
		}
	}
	return false
}

func deltaUint64(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func epochToTime(epochSeconds float64) time.Time {
	return time.Unix(int64(epochSeconds), 0)
}

// monotonicNow is a small indirection kept as its own function so the
// source of MonitorEvent.MonotonicTS is documented in one place; wall
// time is monotonic enough for event ordering within this process.
func monotonicNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
