// Package config loads the YAML configuration shared by the device tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/vkucera/task-coach/internal/protocol"
	"github.com/vkucera/task-coach/internal/secretstore"
	"github.com/vkucera/task-coach/internal/transport"
)

const (
	// DefaultPath is the default location of the configuration file.
	DefaultPath = "~/.config/tcsync/tcsync.yaml"
	// DefaultStorePath is the default location of the device task store.
	DefaultStorePath = "~/.local/share/tcsync/tasks.db"
	// DefaultJournalPath is the default location of the sync journal.
	DefaultJournalPath = "~/.local/share/tcsync/journal.db"
	// DefaultSecretsDir is the default directory of the file credential backend.
	DefaultSecretsDir = "~/.local/share/tcsync/secrets"
	// DefaultPort is the port the desktop listens on.
	DefaultPort = 8001
)

// Config represents the configuration of the device tools.
type Config struct {
	DeviceName  string      `yaml:"device_name"`
	StorePath   string      `yaml:"store_path"`
	JournalPath string      `yaml:"journal_path"`
	Desktop     Desktop     `yaml:"desktop"`
	Protocol    Protocol    `yaml:"protocol"`
	Timeouts    Timeouts    `yaml:"timeouts"`
	Credentials Credentials `yaml:"credentials"`
	LogLevel    string      `yaml:"log_level"`
}

// Desktop is the address of the desktop peer.
type Desktop struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Protocol bounds the negotiated protocol version.
type Protocol struct {
	MinVersion int `yaml:"min_version"`
	MaxVersion int `yaml:"max_version"`
}

// Timeouts of the connection to the desktop. Values are Go durations ("30s").
type Timeouts struct {
	Connect time.Duration `yaml:"connect"`
	Idle    time.Duration `yaml:"idle"`
}

// Credentials selects where desktop passwords are kept.
type Credentials struct {
	// Backend is "keyring" or "file"; empty selects the platform default.
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// Default returns the default configuration.
func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "device"
	}
	tc := transport.DefaultConfig()
	return Config{
		DeviceName:  name,
		StorePath:   ExpandPath(DefaultStorePath),
		JournalPath: ExpandPath(DefaultJournalPath),
		Desktop:     Desktop{Port: DefaultPort},
		Protocol:    Protocol{MinVersion: protocol.MinVersion, MaxVersion: protocol.MaxVersion},
		Timeouts:    Timeouts{Connect: tc.ConnectTimeout, Idle: tc.IdleTimeout},
		Credentials: Credentials{Backend: secretstore.DefaultBackend, Dir: ExpandPath(DefaultSecretsDir)},
		LogLevel:    "info",
	}
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ExpandPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.StorePath = ExpandPath(cfg.StorePath)
	cfg.JournalPath = ExpandPath(cfg.JournalPath)
	cfg.Credentials.Dir = ExpandPath(cfg.Credentials.Dir)
	return cfg, nil
}

// Validate checks the settings needed to reach the desktop.
func (c Config) Validate() error {
	var errs []error
	if c.Desktop.Host == "" {
		errs = append(errs, errors.New("desktop.host is required"))
	}
	if c.Desktop.Port < 1 || c.Desktop.Port > 65535 {
		errs = append(errs, fmt.Errorf("desktop.port %d out of range", c.Desktop.Port))
	}
	if c.Protocol.MinVersion < protocol.MinVersion || c.Protocol.MaxVersion > protocol.MaxVersion ||
		c.Protocol.MinVersion > c.Protocol.MaxVersion {
		errs = append(errs, fmt.Errorf("protocol versions %d..%d outside %d..%d",
			c.Protocol.MinVersion, c.Protocol.MaxVersion, protocol.MinVersion, protocol.MaxVersion))
	}
	switch c.Credentials.Backend {
	case secretstore.BackendKeyring, secretstore.BackendFile:
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.backend %q", c.Credentials.Backend))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Transport returns the connection settings.
func (c Config) Transport() transport.Config {
	tc := transport.DefaultConfig()
	if c.Timeouts.Connect > 0 {
		tc.ConnectTimeout = c.Timeouts.Connect
	}
	tc.IdleTimeout = c.Timeouts.Idle
	return tc
}

// ExpandPath expands the ~ in a path to the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
