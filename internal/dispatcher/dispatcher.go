// Package dispatcher implements a single bounded FIFO queue fed by
// every collector, drained by one consumer goroutine that persists each
// event and then runs it through rules -> heuristics -> anomaly, in that
// fixed order, forwarding any resulting alerts to the Alert Sink.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

// QueueCapacity is the bounded queue size.
const QueueCapacity = 4096

// Evaluator is implemented by the Rules Engine, Heuristics Engine and
// Anomaly Model. Each returns zero or more alerts produced by this one
// event.
type Evaluator interface {
	Evaluate(ev events.MonitorEvent) []events.Alert
}

// Persister is the subset of *store.Store the dispatcher writes to.
type Persister interface {
	AddFileEvent(path, eventType string, sensitive bool, destPath string) error
	AddRegistryEvent(keyPath, valueName, oldValue, newValue, changeType string) error
	AddProcessEvent(pid int32, name, path, kind string) error
	AddNetworkEvent(r NetworkEventRecord) error
}

// NetworkEventRecord mirrors store.NetworkEventRecord so this package
// doesn't need to import internal/store directly.
type NetworkEventRecord struct {
	PID           int32
	Kind          string
	RemoteAddress string
	RemotePort    uint32
	LocalPort     uint32
	BytesUploaded uint64
}

// AlertSink receives alerts fanned out from every evaluator.
type AlertSink interface {
	Receive(a events.Alert)
}

// Dispatcher owns the bounded event queue and the fixed detection order.
type Dispatcher struct {
	queue chan events.MonitorEvent

	sendMu sync.Mutex

	store      Persister
	rules      Evaluator
	heuristics Evaluator
	anomaly    Evaluator // nil when ml.enabled = false
	sink       AlertSink
	metrics    *metrics.Metrics
	log        *logrus.Logger

	dropped uint64
	mu      sync.Mutex
}

// New builds a Dispatcher. anomaly may be nil to disable that stage
// entirely, per the "optional" anomaly model design note.
func New(store Persister, rules, heuristics, anomaly Evaluator, sink AlertSink, m *metrics.Metrics, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		queue:      make(chan events.MonitorEvent, QueueCapacity),
		store:      store,
		rules:      rules,
		heuristics: heuristics,
		anomaly:    anomaly,
		sink:       sink,
		metrics:    m,
		log:        log,
	}
}

// Submit enqueues ev, producer side. The dispatcher never blocks a
// collector: when the queue is full, the oldest queued event is evicted
// and queue_dropped increments. Submit serializes concurrent
// producers so the evict-then-send sequence is atomic and FIFO per
// source is preserved (a single collector always calls Submit from one
// goroutine, so its own ordering is never reordered by this lock).
func (d *Dispatcher) Submit(ev events.MonitorEvent) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	select {
	case d.queue <- ev:
	default:
		select {
		case <-d.queue:
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
			if d.metrics != nil {
				d.metrics.QueueDropped.Inc()
			}
		default:
		}
		select {
		case d.queue <- ev:
		default:
			// Queue was refilled by nobody else (we hold sendMu), so this
			// should not happen; drop ev rather than block the collector.
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
		}
	}
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
	}
}

// Dropped returns the number of events evicted for backpressure so far.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run drains the queue until ctx is canceled, then drains up to a 5s
// deadline before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.process(ev)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case ev := <-d.queue:
			d.process(ev)
		case <-deadline.C:
			return
		default:
			if len(d.queue) == 0 {
				return
			}
		}
	}
}

func (d *Dispatcher) process(ev events.MonitorEvent) {
	d.persist(ev)
	if d.metrics != nil {
		d.metrics.EventsProcessedTotal.WithLabelValues(string(ev.Source)).Inc()
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
	}

	var alerts []events.Alert
	if d.rules != nil {
		alerts = append(alerts, d.rules.Evaluate(ev)...)
	}
	if d.heuristics != nil {
		alerts = append(alerts, d.heuristics.Evaluate(ev)...)
	}
	if d.anomaly != nil {
		alerts = append(alerts, d.anomaly.Evaluate(ev)...)
	}

	for _, a := range alerts {
		if d.sink != nil {
			d.sink.Receive(a)
		}
	}
}

func (d *Dispatcher) persist(ev events.MonitorEvent) {
	if d.store == nil {
		return
	}
	var err error
	switch ev.Source {
	case events.SourceFile:
		if p, ok := ev.Payload.(events.PayloadFile); ok {
			err = d.store.AddFileEvent(p.FilePath, p.EventType, p.IsSensitive, p.DestPath)
		}
	case events.SourceRegistry:
		if p, ok := ev.Payload.(events.PayloadRegistry); ok {
			err = d.store.AddRegistryEvent(p.KeyPath, p.ValueName, p.OldValue, p.NewValue, p.ChangeType)
		}
	case events.SourceProcess:
		if p, ok := ev.Payload.(events.PayloadProcessLifecycle); ok {
			err = d.store.AddProcessEvent(p.PID, p.ProcessName, p.Path, ev.Kind)
		} else if p, ok := ev.Payload.(events.PayloadIOActivity); ok {
			err = d.store.AddProcessEvent(p.PID, p.ProcessName, p.Path, ev.Kind)
		}
	case events.SourceNetwork:
		switch p := ev.Payload.(type) {
		case events.PayloadSuspiciousPort:
			err = d.store.AddNetworkEvent(NetworkEventRecord{
				PID: p.PID, Kind: ev.Kind, RemoteAddress: p.RemoteAddress,
				RemotePort: p.RemotePort, LocalPort: p.LocalPort,
			})
		case events.PayloadHighUpload:
			err = d.store.AddNetworkEvent(NetworkEventRecord{
				PID: p.PID, Kind: ev.Kind, BytesUploaded: p.BytesUploaded,
			})
		}
	}
	if err != nil && d.log != nil {
		d.log.WithError(err).WithField("source", ev.Source).Error("store write failed; event dropped from persistence")
	}
}

// MarshalDetails is a small helper evaluators use to serialize a
// payload into Alert.Details.
func MarshalDetails(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
