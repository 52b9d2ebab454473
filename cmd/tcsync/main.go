// Command tcsync keeps tasks on this device and synchronizes them with a
// Task Coach desktop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/vkucera/task-coach/internal/config"
	"github.com/vkucera/task-coach/internal/deviceid"
	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/store"
)

const version = "0.1.0-dev"

// loadConfig reads the configuration file and applies the global flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("store") {
		cfg.StorePath = config.ExpandPath(c.String("store"))
	}
	if c.IsSet("journal") {
		cfg.JournalPath = config.ExpandPath(c.String("journal"))
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, fmt.Errorf("invalid log level: %w", err)
	}
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log.SetLevel(level)
	return cfg, nil
}

// openStore opens the task store named by the configuration.
func openStore(c *cli.Context) (*store.Store, config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cfg, err
	}
	s, err := openStoreAt(c.Context, cfg)
	return s, cfg, err
}

func openStoreAt(ctx context.Context, cfg config.Config) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store '%s': %w", cfg.StorePath, err)
	}
	return s, nil
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "create the task store and the device identity",
	Action: func(c *cli.Context) error {
		s, cfg, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := deviceid.Ensure(c.Context, s.DB())
		if err != nil {
			return fmt.Errorf("failed to create device id: %w", err)
		}
		log.Info().Str("path", cfg.StorePath).Str("device_id", id).Msg("Store initialized")
		fmt.Fprintf(c.App.Writer, "Store initialized at %s (device %s)\n", cfg.StorePath, id)
		return nil
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "tcsync",
		Usage:   "Task Coach device synchronization",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				Value:   config.DefaultPath,
				EnvVars: []string{"TCSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Path to the task store (overrides the configuration)",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Path to the sync journal (overrides the configuration)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Logging level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			initCmd,
			addCategoryCmd,
			addTaskCmd,
			addEffortCmd,
			completeCmd,
			deleteCmd,
			listCmd,
			syncCmd,
			historyCmd,
			forgetPasswordCmd,
		},
	}
}

func main() {
	if err := newApp().RunContext(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
