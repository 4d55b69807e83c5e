package idebridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

const (
	// ConfigDirEnv overrides the configuration directory outright.
	ConfigDirEnv = "IDEBRIDGE_CONFIG_DIR"

	configDirName   = "idebridge"
	legacyDirName   = ".idebridge"
	discoverySubdir = "ide"
	lockSuffix      = ".lock"
)

// DiscoveryRecord is the handoff artifact a separately launched client
// process reads to locate a running server without manual configuration.
type DiscoveryRecord struct {
	PID              int      `json:"pid"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName"`
	Transport        string   `json:"transport"`
}

// DiscoveryPublisher writes one record per bound port under
// <config-dir>/ide/<port>.lock. Distinct instances never collide because
// each writes a filename keyed by its own ephemeral port.
type DiscoveryPublisher struct {
	logger *slog.Logger
	dir    string

	mu   sync.Mutex
	port int
}

// NewDiscoveryPublisher resolves the configuration directory and prepares a
// publisher. Resolution order: explicit env override, XDG config home, then
// the legacy home-relative fallback; the first existing directory wins,
// otherwise the modern path is chosen (and created on first publish).
func NewDiscoveryPublisher(logger *slog.Logger) *DiscoveryPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryPublisher{
		logger: logger.With(slog.String("component", "discovery")),
		dir:    filepath.Join(ResolveConfigDir(), discoverySubdir),
	}
}

// ResolveConfigDir returns the configuration directory for this process.
func ResolveConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}

	var modern string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		modern = filepath.Join(xdg, configDirName)
	} else if home, err := os.UserHomeDir(); err == nil {
		modern = filepath.Join(home, ".config", configDirName)
	}

	var legacy string
	if home, err := os.UserHomeDir(); err == nil {
		legacy = filepath.Join(home, legacyDirName)
	}

	for _, dir := range []string{modern, legacy} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	if modern != "" {
		return modern
	}
	return legacy
}

// Dir returns the directory the publisher writes records into.
func (p *DiscoveryPublisher) Dir() string { return p.dir }

func (p *DiscoveryPublisher) recordPath(port int) string {
	return filepath.Join(p.dir, strconv.Itoa(port)+lockSuffix)
}

// Publish writes the record for the given bound port, creating the directory
// recursively if absent. Call only after the transport bound successfully,
// so discovery never advertises a half-started server.
func (p *DiscoveryPublisher) Publish(port int, rec DiscoveryRecord) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create discovery dir: %w", err)
	}
	if rec.WorkspaceFolders == nil {
		rec.WorkspaceFolders = []string{}
	}

	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery record: %w", err)
	}
	if err := os.WriteFile(p.recordPath(port), bs, 0o644); err != nil {
		return fmt.Errorf("failed to write discovery record: %w", err)
	}

	p.mu.Lock()
	p.port = port
	p.mu.Unlock()

	p.logger.Info("discovery record published",
		slog.Int("port", port),
		slog.String("path", p.recordPath(port)))
	return nil
}

// SetWorkspaceFolders read-modify-writes the workspaceFolders field of the
// published record. Idempotent: writing the same folders again is harmless.
func (p *DiscoveryPublisher) SetWorkspaceFolders(folders []string) error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == 0 {
		return errors.New("no discovery record published")
	}

	path := p.recordPath(port)
	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read discovery record: %w", err)
	}

	var rec DiscoveryRecord
	if err := json.Unmarshal(bs, &rec); err != nil {
		return fmt.Errorf("failed to decode discovery record: %w", err)
	}

	if folders == nil {
		folders = []string{}
	}
	rec.WorkspaceFolders = folders

	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery record: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write discovery record: %w", err)
	}
	return nil
}

// Remove deletes the published record. A missing file is not an error; the
// record may never have been written or was cleaned up externally.
func (p *DiscoveryPublisher) Remove() error {
	p.mu.Lock()
	port := p.port
	p.port = 0
	p.mu.Unlock()
	if port == 0 {
		return nil
	}

	if err := os.Remove(p.recordPath(port)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove discovery record: %w", err)
	}
	return nil
}

// ReadRecords enumerates the discovery records under dir, keyed by port.
// Client processes use this to find running servers. Records that fail to
// parse are skipped.
func ReadRecords(dir string) (map[int]DiscoveryRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[int]DiscoveryRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read discovery dir: %w", err)
	}

	records := make(map[int]DiscoveryRecord)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != lockSuffix {
			continue
		}
		port, err := strconv.Atoi(name[:len(name)-len(lockSuffix)])
		if err != nil {
			continue
		}

		bs, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var rec DiscoveryRecord
		if err := json.Unmarshal(bs, &rec); err != nil {
			continue
		}
		records[port] = rec
	}
	return records, nil
}

// Ports returns the sorted ports of a record set.
func Ports(records map[int]DiscoveryRecord) []int {
	ports := make([]int, 0, len(records))
	for p := range records {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
