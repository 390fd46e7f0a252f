package anomaly

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

const (
	trainingRingCapacity = 10000
	retrainInterval      = 500
	anomalyThreshold     = 0.7
)

// Model is the anomaly evaluator. Cold until
// minSamples accrue (predict always 0.0 while cold); once trained,
// predict uses the current forest while a background goroutine builds
// the next one every retrainInterval samples past minSamples.
type Model struct {
	mu sync.Mutex

	minSamples int
	ring       []featureVector
	totalSeen  int
	lastTrain  int
	active     *forest
	training   bool

	stats map[int32]*pidStats

	log     *logrus.Logger
	metrics *metrics.Metrics
	rng     *rand.Rand
	now     func() time.Time
}

// NewModel builds a cold Model. minSamples is ml.min_samples_for_training
// (default 1000); a value <= 0 disables training forever (the model
// always predicts 0.0), matching ml.enabled=false.
func NewModel(minSamples int, log *logrus.Logger, m *metrics.Metrics) *Model {
	return &Model{
		minSamples: minSamples,
		stats:      make(map[int32]*pidStats),
		log:        log,
		metrics:    m,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// Evaluate implements dispatcher.Evaluator. It always records the
// event's features (cold or trained), and only emits an alert once a
// trained forest is active and the score clears the threshold.
func (m *Model) Evaluate(ev events.MonitorEvent) []events.Alert {
	pid, name, ok := pidOf(ev)
	if !ok {
		return nil
	}

	m.mu.Lock()
	now := m.now()
	st, exists := m.stats[pid]
	if !exists {
		st = newPidStats(now)
		m.stats[pid] = st
	}
	st.observe(ev)

	vec := buildFeatures(ev, st, now)
	m.appendSample(vec)

	active := m.active
	shouldRetrain := m.minSamples > 0 && !m.training &&
		m.totalSeen >= m.minSamples && m.totalSeen-m.lastTrain >= retrainInterval
	if shouldRetrain {
		m.training = true
		m.lastTrain = m.totalSeen
	}
	ringSnapshot := ringSnapshotFor(shouldRetrain, m.ring)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.AnomalyTrainingRingSize.Set(float64(len(ringSnapshot)))
	}

	if shouldRetrain {
		go m.retrain(ringSnapshot)
	}

	if active == nil {
		return nil
	}
	score := active.score(vec)
	if score < anomalyThreshold {
		return nil
	}

	return []events.Alert{{
		Severity:    events.SeverityHigh,
		SourceTag:   "anomaly",
		ProcessName: name,
		PID:         pid,
		HasPID:      true,
		Description: fmt.Sprintf("process %q scored %.2f on the anomaly model", name, score),
	}}
}

func ringSnapshotFor(need bool, ring []featureVector) []featureVector {
	if !need {
		return nil
	}
	snap := make([]featureVector, len(ring))
	copy(snap, ring)
	return snap
}

func (m *Model) appendSample(v featureVector) {
	m.ring = append(m.ring, v)
	if len(m.ring) > trainingRingCapacity {
		m.ring = m.ring[len(m.ring)-trainingRingCapacity:]
	}
	m.totalSeen++
}

// retrain builds a new forest off-thread and swaps it in atomically.
// predict continues using the previous forest for the duration; the
// retrainer runs on a detached worker and never blocks the dispatcher.
func (m *Model) retrain(samples []featureVector) {
	defer func() {
		m.mu.Lock()
		m.training = false
		m.mu.Unlock()
	}()

	if len(samples) < 2 {
		return
	}
	f := buildForest(samples, m.rng)

	m.mu.Lock()
	m.active = f
	m.mu.Unlock()

	if m.log != nil {
		m.log.WithField("samples", len(samples)).Info("anomaly model retrained")
	}
}

// gobModel is the on-disk shape for Save/Load.
type gobModel struct {
	Forest    *forest
	Ring      []featureVector
	TotalSeen int
	LastTrain int
}

// Save persists the active forest and training ring to path as a
// separate opaque gob blob file.
func (m *Model) Save(path string) error {
	m.mu.Lock()
	snapshot := gobModel{Forest: m.active, Ring: m.ring, TotalSeen: m.totalSeen, LastTrain: m.lastTrain}
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return fmt.Errorf("anomaly: encode model: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Load restores a previously saved model. A missing file is not an
// error -- the model just stays cold.
func (m *Model) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("anomaly: read model: %w", err)
	}
	var snapshot gobModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return fmt.Errorf("anomaly: decode model: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = snapshot.Forest
	m.ring = snapshot.Ring
	m.totalSeen = snapshot.TotalSeen
	m.lastTrain = snapshot.LastTrain
	return nil
}

// IsTrained reports whether a forest is currently active.
func (m *Model) IsTrained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}
