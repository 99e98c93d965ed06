package command

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/cli/output"
	"github.com/fugue-ai/rhema-sub010/internal/config"
	"github.com/fugue-ai/rhema-sub010/internal/infra/buildinfo"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "rhema-store",
		Usage:                "Local persistent cache and storage for agent context",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			ServeCommand(),
			PutCommand(),
			GetCommand(),
			DeleteCommand(),
			KeysCommand(),
			StatsCommand(),
			CleanupCommand(),
			OptimizeCommand(),
			ValidateCommand(),
			BackupCommand(),
			SessionCommand(),
			WorkflowCommand(),
			VersionCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			EnvVars: []string{"RHEMA_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "base-path",
			Aliases: []string{"p"},
			Usage:   "Storage root directory (overrides storage.base_path)",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Persistence backend: file or badger (overrides storage.backend)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show additional columns",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colored status output",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
	}
}

// env is the per-invocation state shared by commands.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.Metrics
	cipher  adaptive.Cipher

	out       io.Writer
	status    *output.Status
	formatter output.Formatter
}

// overrides maps global flags onto configuration keys.
func overrides(c *cli.Context) map[string]any {
	o := make(map[string]any)
	if v := c.String("base-path"); v != "" {
		o["storage.base_path"] = v
	}
	if v := c.String("backend"); v != "" {
		o["storage.backend"] = v
	}
	if v := c.String("log-level"); v != "" {
		o["log.level"] = v
	}
	return o
}

// setup loads configuration and builds the logger, metrics and cipher.
// One-shot commands log at warn unless --log-level is given.
func setup(c *cli.Context, longRunning bool) (*env, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(c.String("config"), overrides(c))
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.Output = c.App.ErrWriter
	if logCfg.Output == nil {
		logCfg.Output = os.Stderr
	}
	if !longRunning && !c.IsSet("log-level") {
		logCfg.Level = "warn"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	cipher, err := cfg.Cipher(c.Context)
	if err != nil {
		return nil, err
	}

	errOut := c.App.ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}

	return &env{
		cfg:       cfg,
		logger:    log,
		metrics:   metric.New(),
		cipher:    cipher,
		out:       c.App.Writer,
		status:    output.NewStatus(errOut, c.Bool("no-color")),
		formatter: output.NewFormatter(format, c.Bool("wide")),
	}, nil
}

func (e *env) open(c *cli.Context) (*storage.Manager, error) {
	return storage.Open(c.Context, e.cfg.ToStorage(e.cipher, e.logger, e.metrics))
}

func (e *env) print(data any) error {
	return e.formatter.Format(e.out, data)
}

// withStore runs fn against an open store and closes it afterwards.
func withStore(c *cli.Context, fn func(e *env, m *storage.Manager) error) (err error) {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	m, err := e.open(c)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e, m)
}

// requireArgs fails unless exactly n positional arguments are present.
func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() != n {
		return cli.Exit(fmt.Sprintf("usage: %s %s", c.Command.HelpName, usage), 2)
	}
	return nil
}
