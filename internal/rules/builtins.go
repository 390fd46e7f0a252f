package rules

import (
	"strings"

	"github.com/tarekazabou/sentineld/internal/events"
)

// builtinRules returns the 8 built-in rules, in the fixed
// order they're listed there. untrusted_process ships disabled by
// default (too noisy on a freshly-learning host).
func builtinRules(opts BuiltinOptions) []Rule {
	suspiciousNames := toLowerSet(opts.SuspiciousProcessNames)
	suspiciousPorts := toUint32Set(opts.SuspiciousPorts)

	return []Rule{
		{
			Name:        "suspicious_process_name",
			Scope:       ScopeProcess,
			Severity:    events.SeverityCritical,
			Enabled:     true,
			Description: "process name matches a known offensive-tooling pattern",
			Predicate: func(ev events.MonitorEvent) bool {
				name := processName(ev)
				return name != "" && suspiciousNames[strings.ToLower(name)]
			},
		},
		{
			Name:        "suspicious_port_connection",
			Scope:       ScopeNetwork,
			Severity:    events.SeverityHigh,
			Enabled:     true,
			Description: "outbound connection to a known suspicious port",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadSuspiciousPort)
				return ok && suspiciousPorts[p.RemotePort]
			},
		},
		{
			Name:        "high_upload_rate",
			Scope:       ScopeNetwork,
			Severity:    events.SeverityHigh,
			Enabled:     true,
			Description: "upload rate exceeded the configured threshold",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadHighUpload)
				return ok && p.MiBUploaded >= opts.UploadThresholdMiB
			},
		},
		{
			Name:        "sensitive_file_access",
			Scope:       ScopeFile,
			Severity:    events.SeverityMedium,
			Enabled:     true,
			Description: "a sensitive file was created, modified or moved",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadFile)
				return ok && p.IsSensitive
			},
		},
		{
			Name:        "untrusted_process",
			Scope:       ScopeProcess,
			Severity:    events.SeverityLow,
			Enabled:     false,
			Description: "a new process started that is not in the trust registry",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadProcessLifecycle)
				return ok && !p.IsTrusted
			},
		},
		{
			Name:        "registry_run_key_modified",
			Scope:       ScopeRegistry,
			Severity:    events.SeverityHigh,
			Enabled:     true,
			Description: "a Run/RunOnce autostart key was added or modified",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadRegistry)
				if !ok || (ev.Kind != events.KindRegistryAdded && ev.Kind != events.KindRegistryMod) {
					return false
				}
				lower := strings.ToLower(p.KeyPath)
				return strings.Contains(lower, "run")
			},
		},
		{
			Name:        "high_connection_count",
			Scope:       ScopeProcess,
			Severity:    events.SeverityMedium,
			Enabled:     true,
			Description: "a process holds an unusually high number of open connections",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadIOActivity)
				return ok && opts.HighConnectionCount > 0 && p.NumConnections >= opts.HighConnectionCount
			},
		},
		{
			Name:        "high_io_activity",
			Scope:       ScopeProcess,
			Severity:    events.SeverityMedium,
			Enabled:     true,
			Description: "a process read or wrote an unusually large amount of data",
			Predicate: func(ev events.MonitorEvent) bool {
				p, ok := ev.Payload.(events.PayloadIOActivity)
				if !ok || opts.HighIOThresholdBytes == 0 {
					return false
				}
				return p.ReadBytesDelta >= opts.HighIOThresholdBytes || p.WriteBytesDelta >= opts.HighIOThresholdBytes
			},
		},
	}
}

func processName(ev events.MonitorEvent) string {
	switch p := ev.Payload.(type) {
	case events.PayloadProcessLifecycle:
		return p.ProcessName
	case events.PayloadIOActivity:
		return p.ProcessName
	}
	return ""
}

func toLowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}

func toUint32Set(ports []int) map[uint32]bool {
	set := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		set[uint32(p)] = true
	}
	return set
}
