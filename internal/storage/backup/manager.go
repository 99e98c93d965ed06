package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
)

const (
	filePrefix    = "backup-"
	fileExtension = ".tar.gz"
	timeLayout    = "20060102150405"

	DefaultRetention = 7
)

// Source is a directory copied into the archive under Name/.
type Source struct {
	Name string
	Path string
}

// Exporter streams state that cannot be copied as files, such as an
// embedded database. The export is stored as a single archive member.
type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
	ExportName() string
}

// Config configures the backup manager.
type Config struct {
	// Dir receives the archives.
	Dir string

	Sources []Source

	// Exporter, when set, is added to every archive.
	Exporter Exporter

	// Retention is the number of archives Prune keeps. Zero keeps all.
	Retention int

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Info describes one archive.
type Info struct {
	ID        string    `json:"id" yaml:"id"`
	Path      string    `json:"path" yaml:"path"`
	Size      int64     `json:"size" yaml:"size"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Files     int       `json:"files,omitempty" yaml:"files,omitempty"`
	Checksum  string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Manager creates, lists and prunes archives.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates the archive directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	if cfg.Retention < 0 {
		cfg.Retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// Create writes a new archive of every source directory.
func (m *Manager) Create(ctx context.Context) (info *Info, err error) {
	defer func() { m.cfg.Metrics.Backup(err) }()

	now := time.Now().UTC()

	file, err := os.CreateTemp(m.cfg.Dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("backup: create temp file: %w", err)
	}
	tempPath := file.Name()
	defer os.Remove(tempPath)

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(file, hash))
	tw := tar.NewWriter(gz)

	files := 0
	for _, src := range m.cfg.Sources {
		n, err := m.addDir(ctx, tw, src)
		if err != nil {
			file.Close()
			return nil, err
		}
		files += n
	}

	if m.cfg.Exporter != nil {
		if err := m.addExport(ctx, tw, now); err != nil {
			file.Close()
			return nil, err
		}
		files++
	}

	if err := tw.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("backup: finish tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("backup: finish gzip: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("backup: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("backup: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, fmt.Errorf("backup: stat: %w", err)
	}

	id, finalPath, err := m.publish(tempPath, now)
	if err != nil {
		return nil, err
	}

	info = &Info{
		ID:        id,
		Path:      finalPath,
		Size:      stat.Size(),
		CreatedAt: now,
		Files:     files,
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}
	m.logger.Info("backup created",
		"id", info.ID,
		"files", info.Files,
		"size_bytes", info.Size)
	return info, nil
}

// addDir copies every regular file below src.Path. A missing directory
// contributes nothing.
func (m *Manager) addDir(ctx context.Context, tw *tar.Writer, src Source) (int, error) {
	count := 0
	err := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == src.Path {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(src.Path, path)
		if err != nil {
			return err
		}
		if err := addFile(tw, path, filepath.ToSlash(filepath.Join(src.Name, rel))); err != nil {
			// Entries may be deleted while the walk runs.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("backup: archive %s: %w", src.Name, err)
	}
	return count, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(stat, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.CopyN(tw, f, hdr.Size)
	return err
}

// addExport spools the export to a temp file because tar needs the size
// before the body.
func (m *Manager) addExport(ctx context.Context, tw *tar.Writer, now time.Time) error {
	spool, err := os.CreateTemp(m.cfg.Dir, ".export-*")
	if err != nil {
		return fmt.Errorf("backup: create export spool: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	if err := m.cfg.Exporter.Export(ctx, spool); err != nil {
		return fmt.Errorf("backup: export: %w", err)
	}
	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("backup: export size: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("backup: rewind export: %w", err)
	}

	hdr := &tar.Header{
		Name:    m.cfg.Exporter.ExportName(),
		Mode:    0o640,
		Size:    size,
		ModTime: now,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("backup: write export header: %w", err)
	}
	if _, err := io.CopyN(tw, spool, size); err != nil {
		return fmt.Errorf("backup: write export: %w", err)
	}
	return nil
}

// List returns archives oldest first.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		p := filepath.Join(m.cfg.Dir, name)
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(name, fileExtension)
		info := &Info{ID: id, Path: p, Size: stat.Size(), CreatedAt: stat.ModTime()}
		if ts, ok := parseID(id); ok {
			info.CreatedAt = ts
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Prune deletes the oldest archives beyond the retention count and
// returns how many were removed.
func (m *Manager) Prune() (int, error) {
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(infos) <= m.cfg.Retention {
		return 0, nil
	}

	removed := 0
	for _, info := range infos[:len(infos)-m.cfg.Retention] {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("backup: remove %s: %w", info.ID, err)
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("backups pruned", "removed", removed, "retention", m.cfg.Retention)
	}
	return removed, nil
}

// Contents lists the member names of an archive.
func Contents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("backup: open gzip: %w", err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backup: read tar: %w", err)
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

// publish links the finished archive under the next free ID. Link fails
// when the name exists, so concurrent writers never replace each other.
func (m *Manager) publish(tempPath string, now time.Time) (string, string, error) {
	const attempts = 100
	for range attempts {
		id := m.generateID(now)
		finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
		err := os.Link(tempPath, finalPath)
		if err == nil {
			return id, finalPath, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("backup: publish: %w", err)
		}
	}
	return "", "", fmt.Errorf("backup: no free archive name for %s", now.Format(timeLayout))
}

// generateID names an archive by its UTC creation second plus a sequence.
func (m *Manager) generateID(t time.Time) string {
	ts := t.UTC().Format(timeLayout)
	prefix := filePrefix + ts + "-"
	seq := 0

	entries, _ := os.ReadDir(m.cfg.Dir)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), fileExtension))
		if err == nil && n > seq {
			seq = n
		}
	}

	return fmt.Sprintf("%s%04d", prefix, seq+1)
}

func parseID(id string) (time.Time, bool) {
	rest := strings.TrimPrefix(id, filePrefix)
	if len(rest) < len(timeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, rest[:len(timeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
