// Package network implements the Network Collector: a periodic
// socket/IO scan that flags suspicious-port connections and sustained
// high-rate uploads per PID.
package network

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

const (
	uploadWindow  = 60 * time.Second
	evictionAfter = 300 * time.Second
)

// Emitter matches dispatcher.Dispatcher's Submit method.
type Emitter interface {
	Submit(ev events.MonitorEvent)
}

type sample struct {
	at            time.Time
	cumulativeOut uint64
}

// Collector runs the periodic socket/IO scan loop.
type Collector struct {
	probe interface {
		hostprobe.SocketEnumerator
		hostprobe.IOCounter
		hostprobe.ProcessEnumerator
	}
	suspiciousPorts   map[uint32]bool
	maxUploadBytesMin float64
	emitter           Emitter
	metrics           *metrics.Metrics
	log               *logrus.Logger
	interval          time.Duration

	ring map[int32][]sample
	now  func() time.Time
}

// New builds a Collector. interval is network_interval_s (default 3s),
// maxUploadMiBPerMin is max_upload_mib_per_min (default 50). probe also
// supplies process names for the PIDs behind sockets and I/O counters,
// since neither the socket nor I/O primitives carry one of their own.
func New(probe interface {
	hostprobe.SocketEnumerator
	hostprobe.IOCounter
	hostprobe.ProcessEnumerator
}, suspiciousPorts []int, maxUploadMiBPerMin float64, emitter Emitter, m *metrics.Metrics, log *logrus.Logger, interval time.Duration) *Collector {
	ports := make(map[uint32]bool, len(suspiciousPorts))
	for _, p := range suspiciousPorts {
		ports[uint32(p)] = true
	}
	return &Collector{
		probe: probe, suspiciousPorts: ports,
		maxUploadBytesMin: maxUploadMiBPerMin * 1024 * 1024,
		emitter:           emitter, metrics: m, log: log, interval: interval,
		ring: make(map[int32][]sample),
		now:  time.Now,
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
			c.metrics.CollectorTickSeconds.WithLabelValues("network").Observe(time.Since(start).Seconds())
		}
	}()

	names := c.resolveNames(ctx)
	c.scanSuspiciousPorts(ctx, names)
	c.scanUploadRate(ctx, names)
	c.evictStale()
}

// resolveNames builds a pid->name map from the same process snapshot
// the process collector samples, since neither EnumerateSockets nor
// PerProcessIO attribute a process name to the PIDs they return.
func (c *Collector) resolveNames(ctx context.Context) map[int32]string {
	samples, err := c.probe.EnumerateProcesses(ctx)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("network collector: process enumeration failed, process_name omitted this tick")
		}
		return nil
	}
	names := make(map[int32]string, len(samples))
	for _, s := range samples {
		names[s.PID] = s.Name
	}
	return names
}

// scanSuspiciousPorts must run, and fully emit, before scanUploadRate
// within the same tick.
func (c *Collector) scanSuspiciousPorts(ctx context.Context, names map[int32]string) {
	conns, err := c.probe.EnumerateSockets(ctx)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("network collector: socket enumeration failed, skipping port scan")
		}
		return
	}

	for _, conn := range conns {
		if conn.Status != "ESTABLISHED" || conn.RemoteAddr == "" {
			continue
		}
		if !c.suspiciousPorts[conn.RemotePort] {
			continue
		}
		c.emitter.Submit(events.MonitorEvent{
			Source: events.SourceNetwork,
			Kind:   events.KindSuspiciousPort,
			Payload: events.PayloadSuspiciousPort{
				PID: conn.PID, ProcessName: names[conn.PID], RemoteAddress: conn.RemoteAddr, RemotePort: conn.RemotePort, LocalPort: conn.LocalPort,
			},
			PreliminaryRisk: 60,
		})
	}
}

func (c *Collector) scanUploadRate(ctx context.Context, names map[int32]string) {
	io, err := c.probe.PerProcessIO(ctx)
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("network collector: IO enumeration failed, skipping upload scan")
		}
		return
	}

	now := c.now()
	for pid, counters := range io {
		samples := append(c.ring[pid], sample{at: now, cumulativeOut: counters.WriteBytes})
		cutoff := now.Add(-uploadWindow)
		i := 0
		for i < len(samples) && samples[i].at.Before(cutoff) {
			i++
		}
		samples = samples[i:]
		c.ring[pid] = samples

		if len(samples) < 2 {
			continue
		}
		oldest, newest := samples[0], samples[len(samples)-1]
		if newest.cumulativeOut < oldest.cumulativeOut {
			continue // counter reset (process restarted) -- skip this window
		}
		bytesInWindow := newest.cumulativeOut - oldest.cumulativeOut
		if float64(bytesInWindow) <= c.maxUploadBytesMin {
			continue
		}

		mib := float64(bytesInWindow) / (1024 * 1024)
		c.emitter.Submit(events.MonitorEvent{
			Source: events.SourceNetwork,
			Kind:   events.KindHighUpload,
			Payload: events.PayloadHighUpload{
				PID: pid, ProcessName: names[pid], BytesUploaded: bytesInWindow, MiBUploaded: mib, ThresholdMiB: c.maxUploadBytesMin / (1024 * 1024),
			},
			PreliminaryRisk: 70,
		})
	}
}

// evictStale drops per-PID upload rings idle for over 300s.
func (c *Collector) evictStale() {
	cutoff := c.now().Add(-evictionAfter)
	for pid, samples := range c.ring {
		if len(samples) == 0 || samples[len(samples)-1].at.Before(cutoff) {
			delete(c.ring, pid)
		}
	}
}
