// Package manifest handles custody.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "custody.toml"

// Manifest represents a custody.toml configuration.
type Manifest struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Log     LogConfig     `toml:"log"`
	Journal JournalConfig `toml:"journal"`
	Metrics MetricsConfig `toml:"metrics"`

	// Dir is the directory containing the custody.toml file (set at load time).
	Dir string `toml:"-"`
}

// BridgeConfig configures the installed throw hook.
type BridgeConfig struct {
	// Strict makes a second Restore on a capsule panic instead of returning
	// an error.
	Strict bool `toml:"strict"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// JournalConfig configures the custody journal.
type JournalConfig struct {
	Output string `toml:"output"`
}

// MetricsConfig configures the prometheus metrics.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// Default returns the configuration used when no custody.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Metrics.Namespace == "" {
		m.Metrics.Namespace = "custody"
	}
}

// Load parses a custody.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a custody.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// JournalPath returns the journal output path, resolved against Dir.
// Empty when no journal is configured.
func (m *Manifest) JournalPath() string {
	if m.Journal.Output == "" {
		return ""
	}
	if filepath.IsAbs(m.Journal.Output) || m.Dir == "" {
		return m.Journal.Output
	}
	return filepath.Join(m.Dir, m.Journal.Output)
}

// LogPath returns the log file path, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.Path == "" {
		return nil
	}
	path := m.Log.Path
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
