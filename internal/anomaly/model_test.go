package anomaly

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
)

func TestColdModelNeverAlerts(t *testing.T) {
	m := NewModel(1000, nil, nil)
	for i := 0; i < 50; i++ {
		alerts := m.Evaluate(events.MonitorEvent{
			Source: events.SourceProcess,
			Kind:   events.KindHighIO,
			Payload: events.PayloadIOActivity{
				PID: 1, ProcessName: "proc", CPUPercent: 99, MemoryPercent: 99,
				ReadBytesDelta: 999999999,
			},
		})
		if len(alerts) != 0 {
			t.Fatalf("cold model must never alert, got %+v", alerts)
		}
	}
	if m.IsTrained() {
		t.Fatal("model should still be cold below min_samples")
	}
}

func TestDisabledModelNeverTrains(t *testing.T) {
	m := NewModel(0, nil, nil)
	for i := 0; i < 2000; i++ {
		m.Evaluate(events.MonitorEvent{
			Source:  events.SourceProcess,
			Kind:    events.KindHighIO,
			Payload: events.PayloadIOActivity{PID: int32(i % 5), ProcessName: "p"},
		})
	}
	if m.IsTrained() {
		t.Fatal("min_samples<=0 must disable training permanently")
	}
}

func TestForestScoresNormalVsOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var samples []featureVector
	// The training points need some spread: samples with zero variance
	// give the trees nothing to split on, so every point would score the same.
	for i := 0; i < 500; i++ {
		d := float64(i % 5)
		samples = append(samples, featureVector{
			10 + d, 10 + d, 5 + d, 1 + d, 1 + d, 1 + d, 1 + d, 2 + d, d, 1 + d, 1 + d,
		})
	}
	f := buildForest(samples, rng)

	normal := featureVector{10, 10, 5, 1, 1, 1, 1, 2, 0, 1, 1}
	outlier := featureVector{99, 99, 500, 5000, 5000, 5000, 5000, 300, 200, 50, 24}

	normalScore := f.score(normal)
	outlierScore := f.score(outlier)
	if outlierScore <= normalScore {
		t.Fatalf("expected outlier score (%.3f) > normal score (%.3f)", outlierScore, normalScore)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m := NewModel(10, nil, nil)
	rng := rand.New(rand.NewSource(2))
	var samples []featureVector
	for i := 0; i < 50; i++ {
		samples = append(samples, featureVector{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	}
	m.active = buildForest(samples, rng)
	m.ring = samples
	m.totalSeen = 50

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewModel(10, nil, nil)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.IsTrained() {
		t.Fatal("expected loaded model to be trained")
	}
	if loaded.totalSeen != 50 {
		t.Errorf("expected totalSeen=50, got %d", loaded.totalSeen)
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	m := NewModel(10, nil, nil)
	if err := m.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if m.IsTrained() {
		t.Fatal("expected model to remain cold")
	}
}

func TestBuildFeaturesDefaultsMissingToZero(t *testing.T) {
	stats := newPidStats(time.Now())
	ev := events.MonitorEvent{
		Source:  events.SourceProcess,
		Kind:    events.KindNewProcess,
		Payload: events.PayloadProcessLifecycle{PID: 1, ProcessName: "p"},
	}
	v := buildFeatures(ev, stats, time.Now())
	for i, f := range v {
		if i >= 7 {
			continue // file/destination/age features come from per-PID stats, not the payload
		}
		if f != 0 {
			t.Errorf("feature %d: expected 0 for a lifecycle event, got %v", i, f)
		}
	}
}
