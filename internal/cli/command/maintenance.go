package command

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/cli/output"
	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/storage/optimize"
)

// OptimizeCommand runs the optimization pipeline once.
func OptimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Run cleanup, deduplication, compression, encryption, validation and size cap",
		Description: "Passes default to the optimization section of the configuration; " +
			"flags switch individual passes on or off for this run.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "cleanup", Usage: "Remove expired and unused entries"},
			&cli.BoolFlag{Name: "dedup", Usage: "Replace duplicate payloads with references"},
			&cli.BoolFlag{Name: "compress", Usage: "Compress uncompressed entries"},
			&cli.StringFlag{Name: "algorithm", Usage: "Compression `CODEC` (zstd, lz4, gzip)"},
			&cli.BoolFlag{Name: "encrypt", Usage: "Encrypt entries with the configured key"},
			&cli.BoolFlag{Name: "validate", Usage: "Verify checksums and repair what can be repaired"},
			&cli.Float64Flag{Name: "max-size-gb", Usage: "Evict least recently used entries above `GB`"},
			&cli.Float64Flag{Name: "rate", Usage: "Limit per-entry work to `N` operations per second"},
		},
		Action: runOptimize,
	}
}

func optimizationConfig(c *cli.Context, e *env) optimize.Config {
	oc := e.cfg.ToOptimization(e.cipher, e.logger, e.metrics)
	if c.IsSet("cleanup") {
		oc.EnableCleanup = c.Bool("cleanup")
	}
	if c.IsSet("dedup") {
		oc.EnableDeduplication = c.Bool("dedup")
	}
	if c.IsSet("compress") {
		oc.EnableCompression = c.Bool("compress")
	}
	if c.IsSet("algorithm") {
		oc.CompressionAlgorithm = c.String("algorithm")
	}
	if c.IsSet("encrypt") {
		oc.EnableEncryption = c.Bool("encrypt")
	}
	if c.IsSet("validate") {
		oc.EnableValidation = c.Bool("validate")
	}
	if c.IsSet("max-size-gb") {
		oc.MaxSizeGB = c.Float64("max-size-gb")
	}
	if c.IsSet("rate") {
		oc.MaxOpsPerSecond = c.Float64("rate")
	}
	return oc
}

func runOptimize(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		oc := optimizationConfig(c, e)
		if oc.EnableEncryption && oc.Cipher == nil {
			return domain.ErrConfiguration.WithDetails("--encrypt needs encryption.key_hex or encryption.passphrase")
		}

		spin := output.NewSpinner(c.App.ErrWriter, "optimizing storage")
		spin.Start()
		res, err := optimize.New(m, e.logger, e.metrics).OptimizeStorage(c.Context, oc)
		spin.Stop()

		if res != nil {
			if perr := e.print(res); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if res.Validation != nil && !res.Validation.Healthy() {
			e.status.Warningf("%d entries could not be repaired, %d broken references",
				len(res.Validation.RepairFailed), len(res.Validation.BrokenReferences))
		}
		return nil
	})
}

// ValidateCommand verifies stored entries.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Verify entry checksums and repair damaged copies",
		ArgsUsage: "[KEY]",
		Action:    runValidate,
	}
}

func runValidate(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		if key := c.Args().First(); key != "" {
			v, err := m.VerifyEntry(c.Context, key)
			if err != nil {
				return err
			}
			if err := e.print(v); err != nil {
				return err
			}
			if !v.OK() {
				return cli.Exit("entry "+key+" is damaged; run validate without a key to repair", 3)
			}
			return nil
		}

		res, err := optimize.New(m, e.logger, e.metrics).ValidateStorageIntegrity(c.Context)
		if err != nil {
			return err
		}
		if err := e.print(res); err != nil {
			return err
		}
		if !res.Healthy() {
			return cli.Exit("storage has unrepaired damage", 3)
		}
		e.status.Successf("%d entries checked", res.Checked)
		return nil
	})
}

// BackupCommand manages backup archives.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Manage backup archives",
		Subcommands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Write a new archive and prune old ones",
				Action: backupCreate,
			},
			{
				Name:   "list",
				Usage:  "List archives, oldest first",
				Action: backupList,
			},
		},
	}
}

var errBackupsDisabled = domain.ErrConfiguration.WithDetails("backups are disabled; set storage.backup_enabled")

func backupCreate(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		spin := output.NewSpinner(c.App.ErrWriter, "creating backup")
		spin.Start()
		path, err := m.CreateBackup(c.Context)
		spin.Stop()
		if err != nil {
			return err
		}
		e.status.Successf("backup written to %s", path)
		return nil
	})
}

func backupList(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		b := m.Backups()
		if b == nil {
			return errBackupsDisabled
		}
		infos, err := b.List()
		if err != nil {
			return domain.ErrFileSystem.WithCause(err)
		}
		rows := make([]backupRow, 0, len(infos))
		for _, in := range infos {
			rows = append(rows, backupRow{ID: in.ID, Size: in.Size, CreatedAt: in.CreatedAt, Path: in.Path})
		}
		return e.print(rows)
	})
}

type backupRow struct {
	ID        string `json:"id" yaml:"id"`
	Size      int64  `json:"size" yaml:"size" table:",bytes"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" table:"created"`
	Path      string `json:"path" yaml:"path" table:",wide"`
}
