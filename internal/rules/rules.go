// Package rules implements the stateless Rules Engine: an ordered list
// of (name, scope, predicate, severity, enabled) rules, evaluated
// against every event whose scope matches its source. Custom rules load
// from YAML files via yaml.Unmarshal.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tarekazabou/sentineld/internal/events"
)

// Scope restricts a rule to one collector's events.
type Scope string

const (
	ScopeProcess  Scope = "process"
	ScopeNetwork  Scope = "network"
	ScopeFile     Scope = "file"
	ScopeRegistry Scope = "registry"
)

// Predicate evaluates a single event and reports whether the rule fires.
type Predicate func(ev events.MonitorEvent) bool

// Rule is one entry in the engine's ordered rule list.
type Rule struct {
	Name        string
	Scope       Scope
	Predicate   Predicate
	Severity    events.Severity
	Enabled     bool
	Description string
}

// Config is the YAML shape for custom rule definitions. Only simple
// field/operator/value checks are supported from file; built-ins are
// compiled predicates (see builtins.go).
type Config struct {
	Name        string   `yaml:"name"`
	Scope       string   `yaml:"scope"`
	Severity    string   `yaml:"severity"`
	Enabled     bool     `yaml:"enabled"`
	Description string   `yaml:"description"`
	Field       string   `yaml:"field"`
	Operator    string   `yaml:"operator"`
	Value       yaml.Node `yaml:"value"`
}

// Engine holds the ordered rule list and evaluates it per event.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine returns an Engine preloaded with the 8 built-in rules,
// using the given options to parametrize the ones that need configured
// thresholds (suspicious process names/ports, upload threshold).
func NewEngine(opts BuiltinOptions) *Engine {
	e := &Engine{}
	e.rules = builtinRules(opts)
	return e
}

// BuiltinOptions parametrizes the built-in rule predicates.
type BuiltinOptions struct {
	SuspiciousProcessNames []string
	SuspiciousPorts        []int
	UploadThresholdMiB     float64
	HighIOThresholdBytes   uint64
	HighConnectionCount    int
}

// LoadCustomRules reads every *.yaml file under dir and appends the
// custom rules it defines (filepath.Glob + yaml.Unmarshal per file).
func (e *Engine) LoadCustomRules(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("rules: read %s: %w", file, err)
		}
		var cfgs []Config
		if err := yaml.Unmarshal(content, &cfgs); err != nil {
			return fmt.Errorf("rules: parse %s: %w", file, err)
		}
		for _, c := range cfgs {
			rule, err := compileCustomRule(c)
			if err != nil {
				return fmt.Errorf("rules: %s: %w", file, err)
			}
			e.Add(rule)
		}
	}
	return nil
}

func compileCustomRule(c Config) (Rule, error) {
	var value interface{}
	_ = c.Value.Decode(&value)

	predicate := func(ev events.MonitorEvent) bool {
		return evaluateFieldCheck(ev, c.Field, c.Operator, value)
	}

	return Rule{
		Name:        c.Name,
		Scope:       Scope(c.Scope),
		Predicate:   predicate,
		Severity:    events.Severity(c.Severity),
		Enabled:     c.Enabled,
		Description: c.Description,
	}, nil
}

// Add appends a rule at the end of the ordered list (custom rules may be
// added at runtime).
func (e *Engine) Add(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// SetEnabled toggles a rule by name.
func (e *Engine) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Name == name {
			e.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// Evaluate runs every enabled rule whose scope matches ev.Source and
// returns one alert per match.
func (e *Engine) Evaluate(ev events.MonitorEvent) []events.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var alerts []events.Alert
	for _, r := range e.rules {
		if !r.Enabled || string(r.Scope) != string(ev.Source) {
			continue
		}
		if r.Predicate(ev) {
			alerts = append(alerts, buildAlert(r, ev))
		}
	}
	return alerts
}

func buildAlert(r Rule, ev events.MonitorEvent) events.Alert {
	pid, name := extractPIDName(ev)
	return events.Alert{
		Severity:    r.Severity,
		SourceTag:   "rules:" + r.Name,
		ProcessName: name,
		PID:         pid,
		HasPID:      pid != 0,
		Description: r.Description,
	}
}

func extractPIDName(ev events.MonitorEvent) (int32, string) {
	switch p := ev.Payload.(type) {
	case events.PayloadProcessLifecycle:
		return p.PID, p.ProcessName
	case events.PayloadIOActivity:
		return p.PID, p.ProcessName
	case events.PayloadSuspiciousPort:
		return p.PID, p.ProcessName
	case events.PayloadHighUpload:
		return p.PID, p.ProcessName
	}
	return 0, ""
}

func evaluateFieldCheck(ev events.MonitorEvent, field, operator string, value interface{}) bool {
	actual := fieldValue(ev, field)
	switch strings.ToLower(operator) {
	case "equals":
		return fmt.Sprint(actual) == fmt.Sprint(value)
	case "notequals":
		return fmt.Sprint(actual) != fmt.Sprint(value)
	case "exists":
		return actual != nil
	case "notexists":
		return actual == nil
	case "contains":
		s, ok1 := actual.(string)
		sub, ok2 := value.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case "greaterthan":
		return compareNumeric(actual, value) > 0
	case "lessthan":
		return compareNumeric(actual, value) < 0
	default:
		return false
	}
}

func compareNumeric(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af > bf:
		return 1
	case af < bf:
		return -1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// fieldValue extracts a named field from an event's payload by a small
// fixed set of known field names, enough to express common custom-rule
// conditions without a full reflection-based path walker.
func fieldValue(ev events.MonitorEvent, field string) interface{} {
	switch field {
	case "kind":
		return ev.Kind
	case "source":
		return string(ev.Source)
	case "preliminary_risk":
		return ev.PreliminaryRisk
	}

	switch p := ev.Payload.(type) {
	case events.PayloadProcessLifecycle:
		switch field {
		case "process_name":
			return p.ProcessName
		case "path":
			return p.Path
		case "is_trusted":
			return p.IsTrusted
		case "risk_score":
			return p.RiskScore
		}
	case events.PayloadIOActivity:
		switch field {
		case "process_name":
			return p.ProcessName
		case "num_connections":
			return p.NumConnections
		case "read_bytes_delta":
			return p.ReadBytesDelta
		case "write_bytes_delta":
			return p.WriteBytesDelta
		}
	case events.PayloadSuspiciousPort:
		switch field {
		case "remote_port":
			return p.RemotePort
		}
	case events.PayloadHighUpload:
		switch field {
		case "mib_uploaded":
			return p.MiBUploaded
		}
	case events.PayloadFile:
		switch field {
		case "is_sensitive":
			return p.IsSensitive
		case "file_path":
			return p.FilePath
		}
	case events.PayloadRegistry:
		switch field {
		case "key_path":
			return p.KeyPath
		}
	}
	return nil
}
