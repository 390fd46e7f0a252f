package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tarekazabou/sentineld/internal/events"
)

func testOptions() BuiltinOptions {
	return BuiltinOptions{
		SuspiciousProcessNames: []string{"nc.exe", "mimikatz.exe"},
		SuspiciousPorts:        []int{4444, 1337},
		UploadThresholdMiB:     50,
		HighIOThresholdBytes:   100 * 1024 * 1024,
		HighConnectionCount:    50,
	}
}

func TestSuspiciousProcessName(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source: events.SourceProcess,
		Kind:   events.KindNewProcess,
		Payload: events.PayloadProcessLifecycle{
			PID: 123, ProcessName: "Mimikatz.exe",
		},
	}
	alerts := e.Evaluate(ev)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].SourceTag != "rules:suspicious_process_name" {
		t.Errorf("unexpected source tag %q", alerts[0].SourceTag)
	}
	if alerts[0].Severity != events.SeverityCritical {
		t.Errorf("expected critical severity, got %s", alerts[0].Severity)
	}
}

func TestSuspiciousPortConnection(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source: events.SourceNetwork,
		Kind:   events.KindSuspiciousPort,
		Payload: events.PayloadSuspiciousPort{
			PID: 5, ProcessName: "curl.exe", RemotePort: 4444,
		},
	}
	alerts := e.Evaluate(ev)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
}

func TestUntrustedProcessDisabledByDefault(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source: events.SourceProcess,
		Kind:   events.KindNewProcess,
		Payload: events.PayloadProcessLifecycle{
			PID: 9, ProcessName: "unknown.exe", IsTrusted: false,
		},
	}
	if alerts := e.Evaluate(ev); len(alerts) != 0 {
		t.Fatalf("expected no alerts with untrusted_process disabled, got %d", len(alerts))
	}

	if !e.SetEnabled("untrusted_process", true) {
		t.Fatal("expected untrusted_process rule to exist")
	}
	if alerts := e.Evaluate(ev); len(alerts) != 1 {
		t.Fatalf("expected 1 alert once enabled, got %d", len(alerts))
	}
}

func TestSensitiveFileAccess(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source: events.SourceFile,
		Kind:   events.KindFileModified,
		Payload: events.PayloadFile{
			FilePath: "/home/u/id_rsa", IsSensitive: true,
		},
	}
	if alerts := e.Evaluate(ev); len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	notSensitive := ev
	notSensitive.Payload = events.PayloadFile{FilePath: "/home/u/notes.txt", IsSensitive: false}
	if alerts := e.Evaluate(notSensitive); len(alerts) != 0 {
		t.Fatalf("expected no alert for non-sensitive file, got %d", len(alerts))
	}
}

func TestRegistryRunKeyModified(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source:  events.SourceRegistry,
		Kind:    events.KindRegistryAdded,
		Payload: events.PayloadRegistry{KeyPath: `HKCU\...\Run`, ValueName: "Updater"},
	}
	if alerts := e.Evaluate(ev); len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	nonAutostart := ev
	nonAutostart.Payload = events.PayloadRegistry{KeyPath: `HKCU\Software\SomeApp\Settings`, ValueName: "Theme"}
	if alerts := e.Evaluate(nonAutostart); len(alerts) != 0 {
		t.Fatalf("expected no alert for a non-autostart registry key, got %d", len(alerts))
	}
}

func TestHighIOAndConnectionCount(t *testing.T) {
	e := NewEngine(testOptions())
	ev := events.MonitorEvent{
		Source: events.SourceProcess,
		Kind:   events.KindHighIO,
		Payload: events.PayloadIOActivity{
			PID: 7, ProcessName: "backup.exe",
			WriteBytesDelta: 200 * 1024 * 1024,
			NumConnections:  60,
		},
	}
	alerts := e.Evaluate(ev)
	names := map[string]bool{}
	for _, a := range alerts {
		names[a.SourceTag] = true
	}
	if !names["rules:high_io_activity"] {
		t.Error("expected high_io_activity to fire")
	}
	if !names["rules:high_connection_count"] {
		t.Error("expected high_connection_count to fire")
	}
}

func TestLoadCustomRules(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
- name: custom_block_notepad
  scope: process
  severity: low
  enabled: true
  description: flag notepad launches
  field: process_name
  operator: equals
  value: notepad.exe
`
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(testOptions())
	if err := e.LoadCustomRules(dir); err != nil {
		t.Fatalf("LoadCustomRules: %v", err)
	}

	ev := events.MonitorEvent{
		Source:  events.SourceProcess,
		Kind:    events.KindNewProcess,
		Payload: events.PayloadProcessLifecycle{PID: 1, ProcessName: "notepad.exe"},
	}
	alerts := e.Evaluate(ev)
	found := false
	for _, a := range alerts {
		if a.SourceTag == "rules:custom_block_notepad" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected custom rule to fire, got alerts: %+v", alerts)
	}
}
