package hostprobe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tarekazabou/sentineld/internal/events"
)

// OSProbe is the gopsutil/v4-backed production Probe. Directory watching
// and registry reads are delegated to the fsnotify- and
// windows/registry-backed types constructed alongside it; OSProbe itself
// only implements the process/socket/IO/hash capabilities, the slice of
// OS state gopsutil covers well.
type OSProbe struct {
	watcher  DirectoryWatcher
	registry RegistryReader
}

// NewOSProbe wires a production Probe from the given directory watcher
// and registry reader (the latter is platform-specific; see
// registry_windows.go / registry_stub.go).
func NewOSProbe(watcher DirectoryWatcher, registry RegistryReader) *OSProbe {
	return &OSProbe{watcher: watcher, registry: registry}
}

// EnumerateProcesses snapshots every visible process via gopsutil.
// Per-field read failures are tolerated: a field is simply left at its
// zero value rather than aborting the whole sample, matching the
// callers must tolerate missing fields.
func (p *OSProbe) EnumerateProcesses(ctx context.Context) ([]events.ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("hostprobe: enumerate processes: %w", err)
	}

	samples := make([]events.ProcessSample, 0, len(procs))
	for _, proc := range procs {
		sample := events.ProcessSample{PID: proc.Pid}

		if name, err := proc.NameWithContext(ctx); err == nil {
			sample.Name = name
		}
		if exe, err := proc.ExeWithContext(ctx); err == nil && exe != "" {
			sample.ExecutablePath = exe
			sample.HasPath = true
		}
		if user, err := proc.UsernameWithContext(ctx); err == nil {
			sample.User = user
		}
		if cmdline, err := proc.CmdlineSliceWithContext(ctx); err == nil {
			sample.CommandLine = cmdline
		}
		if createMs, err := proc.CreateTimeWithContext(ctx); err == nil {
			sample.CreateTime = float64(createMs) / 1000.0
			sample.HasCreateTime = true
		}
		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			sample.CPUPercent = cpu
		}
		if mem, err := proc.MemoryPercentWithContext(ctx); err == nil {
			sample.MemoryPercent = float64(mem)
		}
		if conns, err := proc.ConnectionsWithContext(ctx); err == nil {
			sample.NumConnections = len(conns)
		}
		if io, err := proc.IOCountersWithContext(ctx); err == nil && io != nil {
			sample.ReadBytes = io.ReadBytes
			sample.WriteBytes = io.WriteBytes
		}

		samples = append(samples, sample)
	}
	return samples, nil
}

// EnumerateSockets lists every socket gopsutil can attribute to a PID.
// Sockets with Pid == 0 (no owner) are discarded.
func (p *OSProbe) EnumerateSockets(ctx context.Context) ([]events.Connection, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "all")
	if err != nil {
		return nil, fmt.Errorf("hostprobe: enumerate sockets: %w", err)
	}

	out := make([]events.Connection, 0, len(conns))
	for _, c := range conns {
		if c.Pid == 0 {
			continue
		}
		out = append(out, events.Connection{
			PID:        c.Pid,
			LocalAddr:  c.Laddr.IP,
			LocalPort:  c.Laddr.Port,
			RemoteAddr: c.Raddr.IP,
			RemotePort: c.Raddr.Port,
			Status:     c.Status,
			Family:     familyName(c.Family, c.Type),
		})
	}
	return out, nil
}

func familyName(family, typ uint32) string {
	switch {
	case typ == 1: // SOCK_STREAM
		return "tcp"
	case typ == 2: // SOCK_DGRAM
		return "udp"
	default:
		return strconv.Itoa(int(family))
	}
}

// PerProcessIO reads cumulative read/write byte counters per PID.
func (p *OSProbe) PerProcessIO(ctx context.Context) (map[int32]IOCounters, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("hostprobe: per-process io: %w", err)
	}

	out := make(map[int32]IOCounters, len(procs))
	for _, proc := range procs {
		io, err := proc.IOCountersWithContext(ctx)
		if err != nil || io == nil {
			continue
		}
		out[proc.Pid] = IOCounters{ReadBytes: io.ReadBytes, WriteBytes: io.WriteBytes}
	}
	return out, nil
}

func (p *OSProbe) Watch(ctx context.Context, path string, recursive bool) (<-chan events.FsEvent, error) {
	return p.watcher.Watch(ctx, path, recursive)
}

func (p *OSProbe) ReadRegistryValues(hive, subkey string) (map[string]string, error) {
	return p.registry.ReadRegistryValues(hive, subkey)
}

// ComputeFileHash hashes a file's contents. Any failure (permission,
// vanished file, directory) is reported as ok=false, never an error,
// matching the "may fail silently" contract.
func (p *OSProbe) ComputeFileHash(path, algorithm string) (string, bool) {
	if algorithm != "" && algorithm != "sha256" {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}
