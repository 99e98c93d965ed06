package command

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/cli/output"
	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// PutCommand stores a value.
func PutCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a value under a key",
		ArgsUsage: "KEY [VALUE]",
		Description: "The value is taken from the argument, from --file, or from stdin " +
			"when neither is given.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read the value from `FILE`"},
			&cli.StringFlag{Name: "content-type", Aliases: []string{"t"}, Usage: "Content type (knowledge, todo, decision, ...)", Value: string(domain.ContentOther)},
			&cli.DurationFlag{Name: "ttl", Usage: "Expire the entry after `DURATION`"},
			&cli.StringSliceFlag{Name: "tag", Usage: "Add a tag (repeatable)"},
			&cli.StringFlag{Name: "precompressed", Usage: "Value is already compressed with `CODEC`"},
			&cli.StringFlag{Name: "ref", Usage: "Store a reference to the canonical entry `KEY`"},
		},
		Action: putEntry,
	}
}

func putEntry(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return requireArgs(c, 1, "KEY [VALUE]")
	}
	key := c.Args().Get(0)

	ct, err := domain.ParseContentType(c.String("content-type"))
	if err != nil {
		return err
	}

	var data []byte
	switch {
	case c.String("ref") != "":
	case c.NArg() == 2:
		data = []byte(c.Args().Get(1))
	case c.String("file") != "":
		if data, err = os.ReadFile(c.String("file")); err != nil {
			return err
		}
	default:
		if data, err = io.ReadAll(c.App.Reader); err != nil {
			return err
		}
	}

	meta := domain.NewMetadata(ct, c.Duration("ttl"), c.StringSlice("tag")...)
	var opts []storage.StoreOption
	if codec := c.String("precompressed"); codec != "" {
		opts = append(opts, storage.AlreadyCompressed(codec))
	}
	if target := c.String("ref"); target != "" {
		opts = append(opts, storage.AsReference(target))
	}

	return withStore(c, func(e *env, m *storage.Manager) error {
		if err := m.Store(c.Context, key, data, meta, opts...); err != nil {
			return err
		}
		e.status.Successf("stored %s (%s)", key, output.FormatBytes(int64(len(data))))
		return nil
	})
}

// GetCommand prints a value.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the value stored under a key",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Write the value to `FILE` instead of stdout"},
			&cli.BoolFlag{Name: "meta", Aliases: []string{"m"}, Usage: "Show metadata instead of the value (does not count as an access)"},
		},
		Action: getEntry,
	}
}

// entryView is the metadata shown by "get --meta".
type entryView struct {
	Key         string        `json:"key" yaml:"key"`
	ContentType string        `json:"content_type" yaml:"content_type"`
	SizeBytes   int64         `json:"size_bytes" yaml:"size_bytes" table:",bytes"`
	StoredBytes int64         `json:"stored_bytes" yaml:"stored_bytes" table:",bytes"`
	Codec       string        `json:"codec,omitempty" yaml:"codec,omitempty"`
	Encrypted   bool          `json:"encrypted" yaml:"encrypted"`
	Reference   string        `json:"reference,omitempty" yaml:"reference,omitempty"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	AccessedAt  time.Time     `json:"accessed_at" yaml:"accessed_at"`
	Checksum    string        `json:"checksum,omitempty" yaml:"checksum,omitempty" table:",wide"`
}

func newEntryView(en *domain.Entry) entryView {
	v := entryView{
		Key:         en.Key,
		ContentType: string(en.Metadata.ContentType),
		SizeBytes:   en.Metadata.SizeBytes,
		StoredBytes: en.StoredSize(),
		Encrypted:   en.IsEncrypted(),
		Reference:   en.Reference,
		Tags:        en.Metadata.Tags,
		TTL:         en.Metadata.TTL,
		CreatedAt:   en.Metadata.CreatedAt,
		AccessedAt:  en.Metadata.AccessedAt,
	}
	if en.Compressed {
		v.Codec = en.Codec
	}
	if len(en.Checksum) > 0 {
		v.Checksum = fmt.Sprintf("%x", en.Checksum)
	}
	return v
}

func getEntry(c *cli.Context) error {
	if err := requireArgs(c, 1, "KEY"); err != nil {
		return err
	}
	key := c.Args().First()

	return withStore(c, func(e *env, m *storage.Manager) error {
		if c.Bool("meta") {
			en, err := m.Inspect(c.Context, key)
			if err != nil {
				return err
			}
			if en == nil {
				return domain.ErrEntryNotFound.WithDetails(key)
			}
			return e.print(newEntryView(en))
		}

		data, err := m.Load(c.Context, key)
		if err != nil {
			return err
		}
		if path := c.String("out"); path != "" {
			return os.WriteFile(path, data, 0o644)
		}
		_, err = e.out.Write(data)
		return err
	})
}

// DeleteCommand removes entries.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete one or more entries",
		ArgsUsage: "KEY...",
		Action:    deleteEntries,
	}
}

func deleteEntries(c *cli.Context) error {
	if c.NArg() == 0 {
		return requireArgs(c, 1, "KEY...")
	}

	return withStore(c, func(e *env, m *storage.Manager) error {
		missing := 0
		for _, key := range c.Args().Slice() {
			removed, err := m.Delete(c.Context, key)
			if err != nil {
				return err
			}
			if !removed {
				missing++
				e.status.Warningf("%s not found", key)
				continue
			}
			e.status.Successf("deleted %s", key)
		}
		if missing > 0 {
			return cli.Exit("", 1)
		}
		return nil
	})
}

// KeysCommand lists keys.
func KeysCommand() *cli.Command {
	return &cli.Command{
		Name:    "keys",
		Aliases: []string{"ls"},
		Usage:   "List stored keys",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tag", Usage: "Only keys carrying `TAG`"},
			&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "Show entry details"},
		},
		Action: listKeys,
	}
}

// keyRow is one line of "keys --long".
type keyRow struct {
	Key         string    `json:"key" yaml:"key"`
	ContentType string    `json:"content_type" yaml:"content_type" table:"type"`
	StoredBytes int64     `json:"stored_bytes" yaml:"stored_bytes" table:"stored,bytes"`
	Codec       string    `json:"codec,omitempty" yaml:"codec,omitempty"`
	Reference   string    `json:"reference,omitempty" yaml:"reference,omitempty" table:"ref"`
	AccessedAt  time.Time `json:"accessed_at" yaml:"accessed_at" table:"accessed"`
	Resident    bool      `json:"resident" yaml:"resident" table:",wide"`
	Damaged     bool      `json:"damaged" yaml:"damaged" table:",wide"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty" table:",wide"`
}

func listKeys(c *cli.Context) error {
	tag := c.String("tag")

	return withStore(c, func(e *env, m *storage.Manager) error {
		if !c.Bool("long") {
			var keys []string
			if tag != "" {
				keys = m.ListByTag(c.Context, tag)
			} else {
				keys = m.ListKeys(c.Context)
			}
			if keys == nil {
				keys = []string{}
			}
			if _, ok := e.formatter.(*output.TableFormatter); ok {
				for _, k := range keys {
					fmt.Fprintln(e.out, k)
				}
				return nil
			}
			return e.print(keys)
		}

		rows := []keyRow{}
		for _, info := range m.ListEntries(c.Context) {
			if tag != "" && !info.Metadata.HasTag(tag) {
				continue
			}
			row := keyRow{
				Key:         info.Key,
				ContentType: string(info.Metadata.ContentType),
				StoredBytes: info.StoredBytes,
				Reference:   info.Reference,
				AccessedAt:  info.Metadata.AccessedAt,
				Resident:    info.Resident,
				Damaged:     info.Damaged,
				Tags:        info.Metadata.Tags,
			}
			if info.Compressed {
				row.Codec = info.Codec
			}
			rows = append(rows, row)
		}
		return e.print(rows)
	})
}

// StatsCommand prints storage statistics.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show storage statistics",
		Action: func(c *cli.Context) error {
			return withStore(c, func(e *env, m *storage.Manager) error {
				return e.print(m.Stats(c.Context))
			})
		},
	}
}

// CleanupCommand removes expired, and with --auto unused, entries.
func CleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove expired entries",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "auto", Usage: "Also remove entries unused for longer than storage.unused_after"},
		},
		Action: cleanup,
	}
}

func cleanup(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		if !c.Bool("auto") {
			n, err := m.CleanupExpired(c.Context)
			if err != nil {
				return err
			}
			return e.print(storage.CleanupResult{ExpiredRemoved: n})
		}
		res, err := m.AutoCleanup(c.Context)
		if err != nil {
			return err
		}
		return e.print(res)
	})
}
