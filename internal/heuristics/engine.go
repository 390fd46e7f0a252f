package heuristics

import (
	"strings"
	"sync"
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
)

// Clock is injected so tests can control time deterministically instead
// of racing wall-clock sleeps.
type Clock func() time.Time

// Engine is the correlation engine. It owns one ProcessActivity
// per PID and a (pattern, pid) cooldown table enforcing a minimum 60s
// gap between repeated alerts for the same pattern and PID.
type Engine struct {
	mu sync.Mutex

	activities map[int32]*ProcessActivity
	cooldowns  map[cooldownKey]time.Time

	correlationWindow time.Duration
	cooldown          time.Duration
	now               Clock
}

type cooldownKey struct {
	pattern string
	pid     int32
}

// NewEngine builds an Engine using the default 60s correlation window and
// cooldown, with real wall-clock time.
func NewEngine() *Engine {
	return NewEngineWithClock(defaultCorrelationWindow, defaultCooldown, time.Now)
}

// NewEngineWithClock allows tests to substitute the window, cooldown and
// clock.
func NewEngineWithClock(window, cooldown time.Duration, clock Clock) *Engine {
	return &Engine{
		activities:        make(map[int32]*ProcessActivity),
		cooldowns:         make(map[cooldownKey]time.Time),
		correlationWindow: window,
		cooldown:          cooldown,
		now:               clock,
	}
}

// Evaluate implements dispatcher.Evaluator: record ev into the owning
// PID's ProcessActivity, then test every pattern not on cooldown for that
// PID, producing zero or more alerts.
func (e *Engine) Evaluate(ev events.MonitorEvent) []events.Alert {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	pid, name, trusted := pidNameTrust(ev)
	if pid == 0 {
		return nil
	}

	act, ok := e.activities[pid]
	if !ok {
		act = newProcessActivity(pid, name, trusted, now)
		e.activities[pid] = act
	}
	act.LastSeen = now
	if name != "" {
		act.ProcessName = name
	}
	act.IsTrusted = act.IsTrusted || trusted
	e.apply(act, ev, now)

	var alerts []events.Alert
	for _, p := range patternList {
		if e.onCooldown(p.name, pid, now) {
			continue
		}
		if p.match(act, ev, now, e.correlationWindow) {
			e.armCooldown(p.name, pid, now)
			a := events.Alert{
				Severity:    p.severity,
				SourceTag:   "heuristics:" + p.name,
				ProcessName: act.ProcessName,
				PID:         pid,
				HasPID:      true,
				Description: p.description,
			}
			act.raiseRisk(p.risk)
			alerts = append(alerts, a)
		}
	}

	e.evictStale(now)
	return alerts
}

func (e *Engine) apply(act *ProcessActivity, ev events.MonitorEvent, now time.Time) {
	switch p := ev.Payload.(type) {
	case events.PayloadFile:
		act.recordFile(now, p.FilePath, p.IsSensitive)
	case events.PayloadRegistry:
		act.recordRegistry(now, p.KeyPath)
	case events.PayloadSuspiciousPort:
		act.recordNetwork(now, p.RemoteAddress, 0)
	case events.PayloadHighUpload:
		act.recordNetwork(now, "", p.BytesUploaded)
	}
}

func (e *Engine) onCooldown(pattern string, pid int32, now time.Time) bool {
	armed, ok := e.cooldowns[cooldownKey{pattern, pid}]
	return ok && now.Sub(armed) < e.cooldown
}

func (e *Engine) armCooldown(pattern string, pid int32, now time.Time) {
	e.cooldowns[cooldownKey{pattern, pid}] = now
}

// evictStale drops activities (and their cooldown entries) that have had
// no event for 2x the correlation window.
func (e *Engine) evictStale(now time.Time) {
	cutoff := now.Add(-2 * e.correlationWindow)
	for pid, act := range e.activities {
		if act.LastSeen.Before(cutoff) {
			delete(e.activities, pid)
			for k := range e.cooldowns {
				if k.pid == pid {
					delete(e.cooldowns, k)
				}
			}
			continue
		}
		act.prune(cutoff)
	}
}

func pidNameTrust(ev events.MonitorEvent) (int32, string, bool) {
	switch p := ev.Payload.(type) {
	case events.PayloadProcessLifecycle:
		return p.PID, p.ProcessName, p.IsTrusted
	case events.PayloadIOActivity:
		return p.PID, p.ProcessName, p.IsTrusted
	case events.PayloadSuspiciousPort:
		return p.PID, p.ProcessName, false
	case events.PayloadHighUpload:
		return p.PID, p.ProcessName, false
	}
	return 0, "", false
}

func containsAnyFold(s string, substrs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// pattern is one correlation rule: a name, a match function closing
// over the current event and activity record, and a fixed risk/severity.
type pattern struct {
	name        string
	description string
	risk        float64
	severity    events.Severity
	match       func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool
}

var patternList = []pattern{
	{
		name:        "exfiltration_chain",
		description: "young process accessed a sensitive file and uploaded data",
		risk:        80, severity: events.SeverityHigh,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			return act.age(now) <= 5*time.Minute && act.SensitiveFilesAccessed >= 1 && act.BytesUploaded >= 1024*1024
		},
	},
	{
		name:        "credential_theft",
		description: "process touched a known credential store file",
		risk:        90, severity: events.SeverityCritical,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			return act.hasFileContaining("Login Data", "cookies.sqlite", "key4.db", "logins.json", "Cookies")
		},
	},
	{
		name:        "rapid_file_enumeration",
		description: "process accessed an unusually high number of files in a short window",
		risk:        60, severity: events.SeverityMedium,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			return act.fileAccessesSince(60*time.Second, now) >= 50
		},
	},
	{
		name:        "staging_behavior",
		description: "process wrote to a temp staging path then uploaded data",
		risk:        70, severity: events.SeverityHigh,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			f, ok := act.matchingFile("/tmp/", `\temp\`, `\tmp\`, "/var/tmp/")
			return ok && act.hasUploadAfter(f.at)
		},
	},
	{
		name:        "registry_persistence",
		description: "young process modified an autostart registry key",
		risk:        85, severity: events.SeverityCritical,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			if act.age(now) > 10*time.Minute {
				return false
			}
			for _, r := range act.registry {
				lower := strings.ToLower(r.keyPath)
				if strings.Contains(lower, "run") || strings.Contains(lower, "runonce") {
					return true
				}
			}
			return false
		},
	},
	{
		name:        "multi_destination_upload",
		description: "process uploaded data to many distinct remote destinations",
		risk:        65, severity: events.SeverityMedium,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			return len(act.uniqueDest) >= 5 && act.BytesUploaded >= 512*1024
		},
	},
	{
		name:        "ssh_key_access",
		description: "non-ssh process accessed an SSH private key or known_hosts file",
		risk:        75, severity: events.SeverityHigh,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			if !act.hasFileContaining(".ssh/id_", ".ssh/known_hosts") {
				return false
			}
			name := strings.ToLower(act.ProcessName)
			switch name {
			case "ssh", "sshd", "ssh-agent", "git":
				return false
			}
			return true
		},
	},
	{
		name:        "trusted_process_anomaly",
		description: "trusted process exhibited high IO, connection count or upload behavior",
		risk:        70, severity: events.SeverityHigh,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			if !act.IsTrusted {
				return false
			}
			switch ev.Kind {
			case events.KindHighIO, events.KindAnomalyTrusted, events.KindManyConnections, events.KindHighUpload:
				return true
			}
			return false
		},
	},
	{
		name:        "pid_hijack_attempt",
		description: "a process PID was reused or its executable identity changed mid-life",
		risk:        95, severity: events.SeverityCritical,
		match: func(act *ProcessActivity, ev events.MonitorEvent, now time.Time, window time.Duration) bool {
			switch ev.Kind {
			case events.KindPIDHijack, events.KindProcessMutation:
				return true
			}
			return false
		},
	},
}
