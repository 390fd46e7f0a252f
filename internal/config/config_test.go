package config

import (
	"testing"
)

// TestLoadDefaultsNoConfigFile exercises the common path: no config.yaml
// present, so defaults alone must populate every dotted key. This is the
// path that used to come back with every collector flag false because
// v.Unmarshal couldn't walk a flat "process.enabled"-style tag into
// viper's nested defaults map.
func TestLoadDefaultsNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	opts, err := Load(dir, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !opts.ProcessEnabled {
		t.Error("expected process.enabled to default true")
	}
	if opts.ProcessInterval != 5 {
		t.Errorf("expected process.interval_s default 5, got %d", opts.ProcessInterval)
	}
	if !opts.FileEnabled {
		t.Error("expected file.enabled to default true")
	}
	if len(opts.FileWatchedFolders) == 0 {
		t.Error("expected file.watched_folders to have default entries")
	}
	if len(opts.FileSensitiveExtensions) == 0 {
		t.Error("expected file.sensitive_extensions to have default entries")
	}
	if !opts.NetworkEnabled {
		t.Error("expected network.enabled to default true")
	}
	if len(opts.NetworkSuspiciousPorts) == 0 {
		t.Error("expected network.suspicious_ports to have default entries")
	}
	if opts.NetworkMaxUploadMiBMin != 50 {
		t.Errorf("expected network.max_upload_mib_per_min default 50, got %d", opts.NetworkMaxUploadMiBMin)
	}
	if !opts.RegistryEnabled {
		t.Error("expected registry.enabled to default true")
	}
	if len(opts.RegistryWatchedKeys) == 0 {
		t.Error("expected registry.watched_keys to have default entries")
	}
	if opts.MLEnabled {
		t.Error("expected ml.enabled to default false")
	}
	if opts.MLMinSamplesForTraining != 1000 {
		t.Errorf("expected ml.min_samples_for_training default 1000, got %d", opts.MLMinSamplesForTraining)
	}
	if opts.WebEnabled {
		t.Error("expected web.enabled to default false")
	}
	if opts.WebHost != "127.0.0.1" || opts.WebPort != 8080 {
		t.Errorf("unexpected web defaults: %s:%d", opts.WebHost, opts.WebPort)
	}
	if opts.ScoringCriticalThreshold != 95 {
		t.Errorf("expected scoring.critical_threshold default 95, got %d", opts.ScoringCriticalThreshold)
	}

	// The fatal "both process and file collectors disabled" check in
	// Validate must not trip on defaults alone.
	if err := opts.Validate(); err != nil {
		t.Errorf("expected default options to validate cleanly, got %v", err)
	}
}
