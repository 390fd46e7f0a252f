// Package alerts implements the Alert Sink: it receives alerts fanned
// out by the dispatcher's evaluators, assigns an ID and timestamp,
// persists every one to the Store, keeps a bounded FIFO history, and
// forwards to a Notifier under a rate limit.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

const (
	historyCapacity    = 100
	notificationMinGap = 5 * time.Second
)

// Persister is the subset of *store.Store the sink writes alerts to.
type Persister interface {
	AddAlert(a events.Alert) (string, error)
}

// Notifier delivers an admissible alert to the user (tray/dashboard/log).
// suppressed is the count of alerts rate-limited away since the last
// delivered notification, appended as "(+N other alerts)".
type Notifier interface {
	Notify(a events.Alert, suppressed int)
}

// LogNotifier is a logrus-backed Notifier, the stub implementation used
// when no richer UI channel is wired up (learning mode, headless runs).
type LogNotifier struct {
	Log *logrus.Logger
}

func (n *LogNotifier) Notify(a events.Alert, suppressed int) {
	if n.Log == nil {
		return
	}
	msg := a.Description
	if suppressed > 0 {
		msg = fmt.Sprintf("%s (+%d other alerts)", msg, suppressed)
	}
	n.Log.WithFields(logrus.Fields{
		"severity": a.Severity,
		"source":   a.SourceTag,
		"pid":      a.PID,
		"process":  a.ProcessName,
	}).Warn(msg)
}

// Sink implements dispatcher.AlertSink. It is safe for concurrent use:
// the dispatcher calls Receive from its single consumer goroutine, but
// CLI/dashboard reads run concurrently against the history ring.
type Sink struct {
	mu sync.Mutex

	store    Persister
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logrus.Logger

	learningMode bool

	history []events.Alert // FIFO, capacity historyCapacity

	lastNotified time.Time
	suppressed   int

	now func() time.Time
}

// New builds a Sink. learningMode, when true, suppresses all outbound
// notifications (alerts still persist and enter history).
func New(store Persister, notifier Notifier, m *metrics.Metrics, log *logrus.Logger, learningMode bool) *Sink {
	return &Sink{
		store: store, notifier: notifier, metrics: m, log: log,
		learningMode: learningMode, now: time.Now,
	}
}

// SetLearningMode flips learning mode at runtime, used by the learning
// duration auto-exit ticker in internal/daemon.
func (s *Sink) SetLearningMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learningMode = on
}

// Receive implements dispatcher.AlertSink: assign ID/timestamp, persist,
// record in history, and notify unless rate-limited or learning.
func (s *Sink) Receive(a events.Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	if s.store != nil {
		if id, err := s.store.AddAlert(a); err != nil {
			if s.log != nil {
				s.log.WithError(err).Error("failed to persist alert")
			}
		} else if id != "" {
			a.ID = id
		}
	}

	s.mu.Lock()
	s.appendHistory(a)

	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	}

	if s.learningMode {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if !s.lastNotified.IsZero() && now.Sub(s.lastNotified) < notificationMinGap {
		s.suppressed++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.NotificationsSuppressed.Inc()
		}
		return
	}

	suppressed := s.suppressed
	s.suppressed = 0
	s.lastNotified = now
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.Notify(a, suppressed)
	}
}

func (s *Sink) appendHistory(a events.Alert) {
	s.history = append(s.history, a)
	if len(s.history) > historyCapacity {
		s.history = s.history[len(s.history)-historyCapacity:]
	}
}

// History returns a snapshot copy of the most recent alerts, most
// recent last.
func (s *Sink) History() []events.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Alert, len(s.history))
	copy(out, s.history)
	return out
}
