// Package registry implements the Registry Collector: a Windows-only
// snapshot-diff loop over a fixed set of autostart-relevant subkeys. On
// any other platform the collector is a no-op, matching the Host
// Probe's own registry stub.
package registry

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
	"github.com/tarekazabou/sentineld/internal/logging"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

const (
	lowRisk = 50
	runRisk = 80

	// readErrorLogInterval never elapses, so a read failure is logged
	// once per key for the life of the collector.
	readErrorLogInterval = time.Duration(math.MaxInt64)
)

// WatchedKey names a single hive/subkey pair to snapshot and diff.
type WatchedKey struct {
	Hive   string
	Subkey string
}

// Emitter matches dispatcher.Dispatcher's Submit method.
type Emitter interface {
	Submit(ev events.MonitorEvent)
}

// Collector runs the periodic registry snapshot-diff loop.
type Collector struct {
	reader   hostprobe.RegistryReader
	keys     []WatchedKey
	emitter  Emitter
	metrics  *metrics.Metrics
	log      *logrus.Logger
	once     *logging.Once
	interval time.Duration

	snapshots map[string]map[string]string
}

// New builds a Collector over the configured watched keys. interval is
// registry_interval_s (default 10s).
func New(reader hostprobe.RegistryReader, keys []WatchedKey, emitter Emitter, m *metrics.Metrics, log *logrus.Logger, interval time.Duration) *Collector {
	return &Collector{
		reader: reader, keys: keys, emitter: emitter, metrics: m, log: log,
		once: logging.NewOnce(), interval: interval,
		snapshots: make(map[string]map[string]string),
	}
}

// Run ticks every interval until ctx is canceled. The first tick takes
// the initial snapshot; diffs start on the second tick onward.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Collector) tick() {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CollectorTickSeconds.WithLabelValues("registry").Observe(time.Since(start).Seconds())
		}
	}()

	for _, key := range c.keys {
		current, err := c.reader.ReadRegistryValues(key.Hive, key.Subkey)
		if err != nil {
			if c.once.Allow("registry:"+keyID(key), readErrorLogInterval) && c.log != nil {
				c.log.WithError(err).WithField("key", keyID(key)).Debug("registry collector: permission denied reading key")
			}
			continue
		}

		id := keyID(key)
		previous, known := c.snapshots[id]
		c.snapshots[id] = current
		if !known {
			continue // first observation establishes the baseline, no diff yet
		}

		c.diff(key, previous, current)
	}
}

func (c *Collector) diff(key WatchedKey, previous, current map[string]string) {
	risk := float64(lowRisk)
	if strings.Contains(strings.ToLower(key.Subkey), "run") {
		risk = runRisk
	}

	for name, newValue := range current {
		oldValue, existed := previous[name]
		switch {
		case !existed:
			c.emit(key, events.KindRegistryAdded, name, "", newValue, "added", risk)
		case oldValue != newValue:
			c.emit(key, events.KindRegistryMod, name, oldValue, newValue, "modified", risk)
		}
	}
	for name, oldValue := range previous {
		if _, stillPresent := current[name]; !stillPresent {
			c.emit(key, events.KindRegistryDeleted, name, oldValue, "", "deleted", risk)
		}
	}
}

func (c *Collector) emit(key WatchedKey, kind, valueName, oldValue, newValue, changeType string, risk float64) {
	c.emitter.Submit(events.MonitorEvent{
		Source: events.SourceRegistry,
		Kind:   kind,
		Payload: events.PayloadRegistry{
			KeyPath: key.Hive + `\` + key.Subkey, ValueName: valueName,
			OldValue: oldValue, NewValue: newValue, ChangeType: changeType,
		},
		PreliminaryRisk: risk,
	})
}

func keyID(key WatchedKey) string {
	return key.Hive + `\` + key.Subkey
}
