package daemon

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/config"
)

func testOptions(t *testing.T) *config.Options {
	dir := t.TempDir()
	return &config.Options{
		ConfigDir: dir,
		StorePath: filepath.Join(dir, "sentineld.db"),
		ModelPath: filepath.Join(dir, "anomaly_model.bin"),

		LearningMode:         true,
		LearningDurationDays: 7,

		ProcessEnabled: false,
		FileEnabled:    true, // no watched folders below, so no real fsnotify watches open

		NetworkEnabled:         false,
		NetworkInterval:        3,
		NetworkMaxUploadMiBMin: 50,

		RegistryEnabled:  false,
		RegistryInterval: 10,

		MLEnabled:  false,
		WebEnabled: false,
	}
}

func TestNewWiresEveryComponentWithoutError(t *testing.T) {
	opts := testOptions(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	d, err := New(opts, log, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}
	if d.store == nil || d.trust == nil || d.dispatcher == nil || d.sink == nil {
		t.Fatal("expected store, trust, dispatcher, and sink to all be constructed")
	}
	if d.model != nil {
		t.Error("expected no anomaly model when ml.enabled is false")
	}
	if d.dashboard != nil {
		t.Error("expected no dashboard when web.enabled is false")
	}
	_ = d.store.Close()
}

func TestRunStopsCleanlyWithinDrainDeadline(t *testing.T) {
	opts := testOptions(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	d, err := New(opts, log, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error on shutdown: %v", err)
		}
	case <-time.After(shutdownDrainDeadline + 2*time.Second):
		t.Fatal("Run did not return within the shutdown drain deadline")
	}
}

func TestLearningModeTickerNoopsWhenDisabled(t *testing.T) {
	opts := testOptions(t)
	opts.LearningMode = false
	log := logrus.New()
	log.SetOutput(io.Discard)

	d, err := New(opts, log, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}
	defer d.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.startedAt = time.Now()

	done := make(chan struct{})
	go func() {
		d.runLearningModeTicker(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected runLearningModeTicker to return immediately when learning mode is disabled")
	}
}

func TestExpandHomeOnlyRewritesTildePrefix(t *testing.T) {
	out := expandHome([]string{"~/Documents", "/etc/fixed"})
	if out[1] != "/etc/fixed" {
		t.Errorf("expected absolute path to pass through unchanged, got %q", out[1])
	}
	if out[0] == "~/Documents" {
		t.Error("expected ~/ prefix to be expanded")
	}
}

func TestParseWatchedKeysSplitsHiveFromSubkey(t *testing.T) {
	keys := parseWatchedKeys([]string{`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`})
	if len(keys) != 1 {
		t.Fatalf("expected 1 parsed key, got %d", len(keys))
	}
	if keys[0].Hive != "HKCU" || keys[0].Subkey != `Software\Microsoft\Windows\CurrentVersion\Run` {
		t.Errorf("unexpected split: %+v", keys[0])
	}
}
