// Command tcdesktop is a stand-in Task Coach desktop: it serves sync
// sessions from devices against an in-memory task file.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/vkucera/task-coach/internal/desktop"
	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
)

const (
	// DefaultListenAddress is the address the desktop listens on.
	DefaultListenAddress = ":8001"
	// DefaultPIDFile is the default path for the tcdesktop PID file.
	DefaultPIDFile = "~/.local/share/tcsync/tcdesktop.pid"
)

// Config represents the configuration for the tcdesktop daemon.
type Config struct {
	// ListenAddress is the address to listen on.
	ListenAddress string
	// Fixture is the YAML file the task file is seeded from.
	Fixture string
	// Password enables authentication when set.
	Password string
	// Mode is the sync mode for devices paired with another file.
	Mode string
	// Deny lists device names that are refused.
	Deny []string
	// PIDFile is the path to the PID file.
	PIDFile string
	// LogLevel is the logging level.
	LogLevel string
	// MaxVersion caps the offered protocol version.
	MaxVersion int
}

var modes = map[string]protocol.SyncMode{
	"two-way":           protocol.ModeTwoWay,
	"full-from-desktop": protocol.ModeFullFromDesktop,
	"full-from-device":  protocol.ModeFullFromDevice,
}

// expandPath expands the ~ in a path to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// writePIDFile writes the current process ID to the PID file.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for PID file: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// newServer builds the desktop server described by config.
func newServer(config Config) (*desktop.Server, error) {
	mode, ok := modes[config.Mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", config.Mode)
	}
	if config.MaxVersion != 0 && (config.MaxVersion < protocol.MinVersion || config.MaxVersion > protocol.MaxVersion) {
		return nil, fmt.Errorf("max version %d outside %d..%d", config.MaxVersion, protocol.MinVersion, protocol.MaxVersion)
	}

	file := desktop.NewFile()
	if config.Fixture != "" {
		var err error
		if file, err = desktop.LoadFixture(expandPath(config.Fixture)); err != nil {
			return nil, fmt.Errorf("failed to load fixture: %w", err)
		}
	}

	srv := &desktop.Server{
		File:        file,
		Password:    config.Password,
		DefaultMode: mode,
		MaxVersion:  config.MaxVersion,
	}
	if len(config.Deny) > 0 {
		denied := make(map[string]bool, len(config.Deny))
		for _, name := range config.Deny {
			denied[name] = true
		}
		srv.Accept = func(id desktop.Identity) bool { return !denied[id.Name] }
	}
	return srv, nil
}

// logSession reports a finished session and the file contents.
func logSession(file *desktop.File) func(desktop.Result, error) {
	return func(res desktop.Result, err error) {
		if err != nil {
			return
		}
		log.Info().
			Str("device", res.Device.Name).
			Str("device_id", res.Device.DeviceID).
			Int("categories", file.Len(model.KindCategory)).
			Int("tasks", file.Len(model.KindTask)).
			Int("efforts", file.Len(model.KindEffort)).
			Msg("Task file updated")
	}
}

// runDaemon runs the tcdesktop daemon with the given configuration.
func runDaemon(ctx context.Context, config Config) error {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	srv, err := newServer(config)
	if err != nil {
		return err
	}

	if config.PIDFile != "" {
		if err := writePIDFile(config.PIDFile); err != nil {
			return err
		}
		defer removePIDFile(config.PIDFile)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.ListenAddress, err)
	}
	log.Info().Str("mode", config.Mode).Bool("password", config.Password != "").Msg("tcdesktop started")

	err = srv.ServeListener(ctx, ln, logSession(srv.File))
	log.Info().Msg("tcdesktop stopped")
	return err
}

func newApp() *cli.App {
	config := Config{}

	return &cli.App{
		Name:  "tcdesktop",
		Usage: "Task Coach desktop sync peer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"L"},
				Usage:       "Address to listen on",
				Value:       DefaultListenAddress,
				Destination: &config.ListenAddress,
			},
			&cli.StringFlag{
				Name:        "fixture",
				Aliases:     []string{"f"},
				Usage:       "YAML file to seed the task file from",
				Destination: &config.Fixture,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "Password devices must answer the challenge with",
				EnvVars:     []string{"TCDESKTOP_PASSWORD"},
				Destination: &config.Password,
			},
			&cli.StringFlag{
				Name:        "mode",
				Aliases:     []string{"m"},
				Usage:       "Sync mode for unpaired devices (two-way, full-from-desktop, full-from-device)",
				Value:       "full-from-desktop",
				Destination: &config.Mode,
			},
			&cli.StringSliceFlag{
				Name:  "deny",
				Usage: "Device names to refuse",
			},
			&cli.IntFlag{
				Name:        "max-version",
				Usage:       "Highest protocol version to offer",
				Destination: &config.MaxVersion,
			},
			&cli.StringFlag{
				Name:        "pid-file",
				Aliases:     []string{"p"},
				Usage:       "Path to the PID file",
				Value:       DefaultPIDFile,
				Destination: &config.PIDFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "info",
				Destination: &config.LogLevel,
			},
		},
		Action: func(c *cli.Context) error {
			config.PIDFile = expandPath(config.PIDFile)
			config.Deny = c.StringSlice("deny")
			return runDaemon(c.Context, config)
		},
	}
}

func main() {
	if err := newApp().RunContext(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("tcdesktop failed")
		os.Exit(1)
	}
}
