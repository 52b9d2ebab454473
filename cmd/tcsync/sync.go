package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/vkucera/task-coach/internal/config"
	"github.com/vkucera/task-coach/internal/journal"
	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/protocol"
	"github.com/vkucera/task-coach/internal/secretstore"
	"github.com/vkucera/task-coach/internal/transport"
)

// journalRetention is how long finished sessions are kept in the journal.
const journalRetention = 90 * 24 * time.Hour

// cliController reports session progress through the logger and prompts
// for the desktop password on the terminal.
type cliController struct {
	in  *bufio.Reader
	out io.Writer

	mu       sync.Mutex
	cancel   bool
	outcome  protocol.Outcome
	finished chan struct{}
}

func newController(in io.Reader, out io.Writer) *cliController {
	return &cliController{in: bufio.NewReader(in), out: out, finished: make(chan struct{})}
}

func (c *cliController) Progress(p protocol.Progress) {
	log.Info().
		Str("phase", p.Phase.String()).
		Str("kind", p.Kind.String()).
		Int("current", p.Current).
		Int("total", p.Total).
		Msg("Sync progress")
}

func (c *cliController) Finished(o protocol.Outcome) {
	c.mu.Lock()
	c.outcome = o
	c.mu.Unlock()
	close(c.finished)
}

func (c *cliController) CancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel
}

func (c *cliController) requestCancel() {
	c.mu.Lock()
	c.cancel = true
	c.mu.Unlock()
}

func (c *cliController) Password(host string, attempt int) (string, error) {
	if attempt > 1 {
		fmt.Fprintln(c.out, "Wrong password.")
	}
	fmt.Fprintf(c.out, "Password for %s: ", host)
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var syncCmd = &cli.Command{
	Name:  "sync",
	Usage: "synchronize with the desktop",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Aliases: []string{"H"},
			Usage:   "Desktop host (overrides the configuration)",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Desktop port (overrides the configuration)",
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Desktop password, stored for later sessions",
			EnvVars: []string{"TCSYNC_PASSWORD"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Give up after this long",
			Value:   10 * time.Minute,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.IsSet("host") {
			cfg.Desktop.Host = c.String("host")
		}
		if c.IsSet("port") {
			cfg.Desktop.Port = c.Int("port")
		}
		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
		}

		creds, err := secretstore.New(cfg.Credentials.Backend, cfg.Credentials.Dir)
		if err != nil {
			return err
		}
		if pw := c.String("password"); pw != "" {
			if err := creds.Put(credentialKey(cfg), []byte(pw)); err != nil {
				return fmt.Errorf("failed to store password: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()

		o, err := runSync(ctx, cfg, creds, newController(os.Stdin, c.App.ErrWriter))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Sync %s: sent %d, received %d (version %d, %s)\n",
			o.Status, o.Sent.Total(), o.Received.Total(), o.Version, o.Mode)
		if o.Status != protocol.Succeeded {
			return cli.Exit(fmt.Sprintf("sync %s: %v", o.Status, o.Err), 2)
		}
		return nil
	},
}

func credentialKey(cfg config.Config) string {
	return protocol.CredentialKey(cfg.Desktop.Host)
}

// runSync runs one session against the configured desktop, journaling it.
func runSync(ctx context.Context, cfg config.Config, creds protocol.CredentialStore, ctrl *cliController) (protocol.Outcome, error) {
	s, err := openStoreAt(ctx, cfg)
	if err != nil {
		return protocol.Outcome{}, err
	}
	defer s.Close()

	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return protocol.Outcome{}, err
	}
	defer j.Close()
	if n, err := j.CleanupExpired(ctx, journalRetention); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up the journal")
	} else if n > 0 {
		log.Debug().Int64("sessions", n).Msg("Expired sessions removed from the journal")
	}

	id := uuid.NewString()
	peer := fmt.Sprintf("%s:%d", cfg.Desktop.Host, cfg.Desktop.Port)
	if err := j.Begin(ctx, id, peer); err != nil {
		return protocol.Outcome{}, err
	}

	sess, err := protocol.NewSession(protocol.Config{
		ID:          id,
		Host:        cfg.Desktop.Host,
		Port:        cfg.Desktop.Port,
		DeviceName:  cfg.DeviceName,
		MinVersion:  cfg.Protocol.MinVersion,
		MaxVersion:  cfg.Protocol.MaxVersion,
		Store:       j.Track(s, id),
		Controller:  ctrl,
		Credentials: creds,
	})
	if err != nil {
		return protocol.Outcome{}, err
	}

	log.Info().Str("peer", peer).Str("session", id).Msg("Starting synchronization")
	conn, err := transport.Dial(ctx, cfg.Desktop.Host, cfg.Desktop.Port, cfg.Transport())
	if err != nil {
		o := protocol.Outcome{Status: protocol.Failed, Reason: protocol.ReasonTransport, Err: err}
		finishJournal(j, id, o)
		return o, nil
	}

	m := protocol.NewMachine(ctx, sess, conn)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			log.Info().Str("signal", sig.String()).Msg("Received signal, cancelling sync")
			ctrl.requestCancel()
			m.Cancel()
		case <-ctrl.finished:
		}
	}()

	if err := conn.Serve(m); err != nil {
		log.Debug().Err(err).Msg("Connection ended with an error")
	}
	o, ok := m.Outcome()
	if !ok {
		o = protocol.Outcome{Status: protocol.Failed, Reason: protocol.ReasonTransport, Err: transport.ErrUnexpectedClose}
	}
	finishJournal(j, id, o)
	return o, nil
}

func finishJournal(j *journal.Journal, id string, o protocol.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Finish(ctx, id, o); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("Failed to journal the outcome")
	}
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "show recent sync sessions",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Number of sessions to show"},
		&cli.BoolFlag{Name: "transfers", Usage: "Show the records each session moved"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		j, err := journal.Open(c.Context, cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.Sessions(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		w := c.App.Writer
		for _, e := range entries {
			status := "unfinished"
			detail := ""
			if r := e.Report; r != nil {
				status = r.Status
				detail = fmt.Sprintf(" v%d %s sent=%d received=%d", r.Version, r.Mode, r.Sent.Total(), r.Received.Total())
				if r.Error != "" {
					detail += " error=" + r.Error
				}
			}
			fmt.Fprintf(w, "%s  %s  %-10s %s%s\n", e.StartedAt.Local().Format(time.DateTime), e.ID, status, e.Peer, detail)
			if !c.Bool("transfers") {
				continue
			}
			transfers, err := j.Transfers(c.Context, e.ID)
			if err != nil {
				return err
			}
			for _, t := range transfers {
				fmt.Fprintf(w, "    %-8s %-8s %-8s %s\n", t.Direction, t.Change, t.Kind, t.RemoteID)
			}
		}
		return nil
	},
}

var forgetPasswordCmd = &cli.Command{
	Name:  "forget-password",
	Usage: "remove the stored password of the configured desktop",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "host", Aliases: []string{"H"}, Usage: "Desktop host (overrides the configuration)"},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Desktop port (overrides the configuration)"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.IsSet("host") {
			cfg.Desktop.Host = c.String("host")
		}
		if c.IsSet("port") {
			cfg.Desktop.Port = c.Int("port")
		}
		creds, err := secretstore.New(cfg.Credentials.Backend, cfg.Credentials.Dir)
		if err != nil {
			return err
		}
		err = creds.Delete(credentialKey(cfg))
		switch {
		case errors.Is(err, secretstore.ErrNotFound):
			fmt.Fprintln(c.App.Writer, "No password stored")
		case err != nil:
			return fmt.Errorf("failed to remove password: %w", err)
		default:
			fmt.Fprintln(c.App.Writer, "Password removed")
		}
		return nil
	},
}
