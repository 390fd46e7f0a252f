// Package events defines the wire types shared by every collector and the
// dispatcher. It is a leaf package: nothing here imports any other
// sentineld package, which keeps collectors and the dispatcher from
// depending on each other directly.
package events

import "time"

// Source identifies which collector produced a MonitorEvent.
type Source string

const (
	SourceProcess  Source = "process"
	SourceFile     Source = "file"
	SourceNetwork  Source = "network"
	SourceRegistry Source = "registry"
)

// Severity is the alert severity ladder used throughout the detection
// stack. Thresholds are fixed: critical >= 90, high >= 70, medium >= 50,
// else low.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromRisk maps a 0-100 risk score to a Severity.
func SeverityFromRisk(risk float64) Severity {
	switch {
	case risk >= 90:
		return SeverityCritical
	case risk >= 70:
		return SeverityHigh
	case risk >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ProcessSample is a transient per-process snapshot produced each process
// collector tick. Any field beyond PID may be absent because the host
// probe could not read it (permission, zombie process, race with exit).
type ProcessSample struct {
	PID             int32
	Name            string
	ExecutablePath  string // empty if unknown
	User            string // empty if unknown
	CommandLine     []string
	CreateTime      float64 // wall-clock seconds
	CPUPercent      float64
	MemoryPercent   float64
	NumConnections  int
	ReadBytes       uint64
	WriteBytes      uint64
	HasPath         bool
	HasCreateTime   bool
}

// Connection is a single socket observed by the host probe. Connections
// with no owning PID are discarded by the probe before they ever reach a
// collector.
type Connection struct {
	PID        int32
	LocalAddr  string
	LocalPort  uint32
	RemoteAddr string
	RemotePort uint32
	Status     string // e.g. ESTABLISHED, LISTEN
	Family     string // e.g. tcp4, tcp6, udp
}

// FsEventKind enumerates the filesystem change kinds the directory
// watcher capability can surface.
type FsEventKind string

const (
	FsCreated  FsEventKind = "created"
	FsModified FsEventKind = "modified"
	FsMoved    FsEventKind = "moved"
	FsDeleted  FsEventKind = "deleted"
)

// FsEvent is a single filesystem change. DestPath is only set for Moved
// events. IsDir lets collectors discard directory-level events, which
// the host probe does not filter on its own.
type FsEvent struct {
	Kind     FsEventKind
	SrcPath  string
	DestPath string
	IsDir    bool
}

// RegistryChangeKind enumerates the registry diff outcomes (Windows only).
type RegistryChangeKind string

const (
	RegistryAdded    RegistryChangeKind = "registry_added"
	RegistryModified RegistryChangeKind = "registry_modified"
	RegistryDeleted  RegistryChangeKind = "registry_deleted"
)

// MonitorEvent is the single unit of pipeline traffic. Payload carries a
// source-specific struct (see the Payload* types below); callers
// type-switch on Payload to know which one.
type MonitorEvent struct {
	Source          Source
	Kind            string
	MonotonicTS      float64
	Payload         interface{}
	PreliminaryRisk float64
}

// Pipeline event kinds.
const (
	KindNewProcess      = "new_process"
	KindPIDHijack       = "pid_hijack"
	KindProcessMutation = "process_mutation"
	KindHighIO          = "high_io"
	KindAnomalyTrusted  = "anomaly_trusted"
	KindManyConnections = "many_connections"
	KindSuspiciousPort  = "suspicious_port"
	KindHighUpload      = "high_upload"
	KindFileCreated     = "file_created"
	KindFileModified    = "file_modified"
	KindFileMoved       = "file_moved"
	KindFileDeleted     = "file_deleted"
	KindRegistryAdded   = "registry_added"
	KindRegistryMod     = "registry_modified"
	KindRegistryDeleted = "registry_deleted"
)

// PayloadProcessLifecycle backs new_process, pid_hijack and
// process_mutation events.
type PayloadProcessLifecycle struct {
	PID           int32
	ProcessName   string
	Path          string
	User          string
	Cmdline       []string
	IsTrusted     bool
	RiskScore     float64
	ProcessAgeS   float64
	OldName       string
	OldPath       string
}

// PayloadIOActivity backs high_io, anomaly_trusted and many_connections
// events.
type PayloadIOActivity struct {
	PID             int32
	ProcessName     string
	Path            string
	ReadBytesDelta  uint64
	WriteBytesDelta uint64
	NumConnections  int
	IsTrusted       bool
	CPUPercent      float64
	MemoryPercent   float64
	BytesSentDelta  uint64
	BytesRecvDelta  uint64
	ProcessAgeS     float64
}

// PayloadSuspiciousPort backs suspicious_port events.
type PayloadSuspiciousPort struct {
	PID           int32
	ProcessName   string
	RemoteAddress string
	RemotePort    uint32
	LocalPort     uint32
}

// PayloadHighUpload backs high_upload events.
type PayloadHighUpload struct {
	PID           int32
	ProcessName   string
	BytesUploaded uint64
	MiBUploaded   float64
	ThresholdMiB  float64
}

// PayloadFile backs file_* events.
type PayloadFile struct {
	FilePath    string
	EventType   string
	IsSensitive bool
	DestPath    string
}

// PayloadRegistry backs registry_* events.
type PayloadRegistry struct {
	KeyPath    string
	ValueName  string
	OldValue   string
	NewValue   string
	ChangeType string
}

// Alert is the durable record raised by the detection stack.
type Alert struct {
	ID           string
	Severity     Severity
	SourceTag    string // "rules:<name>", "heuristics:<name>" or "anomaly"
	ProcessName  string
	PID          int32
	HasPID       bool
	Description  string
	Details      string // opaque serialized payload (JSON)
	Acknowledged bool
	CreatedAt    time.Time
}

// TrustAddedBy enumerates who vouched for a TrustEntry.
type TrustAddedBy string

const (
	TrustAddedBySystem  TrustAddedBy = "system"
	TrustAddedByUser    TrustAddedBy = "user"
	TrustAddedByLearned TrustAddedBy = "learned"
)

// TrustEntry is a durable trust-list row. The compiled built-in list is
// never stored here.
type TrustEntry struct {
	Name     string
	Path     string
	Hash     string
	AddedBy  TrustAddedBy
	Reason   string
	Publisher string
}

// ProcessRecord is the durable, identity-keyed record described in the
// data model. Identity is (Name, ExecutablePath).
type ProcessRecord struct {
	Name           string
	ExecutablePath string
	LastPID        int32
	HashSHA256     string
	FirstSeen      time.Time
	LastSeen       time.Time
	IsTrusted      bool
	RiskScore      float64
}
