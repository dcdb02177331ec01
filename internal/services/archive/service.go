// Package archive builds compressed world archives from container paths.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog"
)

// Compression level names accepted in the configuration.
const (
	LevelFastest = "fastest"
	LevelDefault = "default"
	LevelBest    = "best"
)

// DefaultPrefix is the artifact name prefix used when none is configured.
const DefaultPrefix = "worlds_backup"

// TimestampFormat is the layout of the timestamp embedded in artifact names.
const TimestampFormat = "20060102_150405"

const (
	stagingPrefix = ".staging_"
	ioBufferSize  = 1 << 20
)

// Service defines the interface for archive operations.
type Service interface {
	Build(ctx context.Context, cfg models.BackupConfig) (*models.ArchiveResult, error)
}

// Copier copies a path out of a container to the host.
type Copier interface {
	CopyFrom(ctx context.Context, container, srcPath, hostPath string) error
}

// Impl implements the archive Service interface.
type Impl struct {
	copier Copier
	logger zerolog.Logger
	now    func() time.Time
	stat   func(name string) (os.FileInfo, error)
}

// New creates a new archive service.
func New(logger zerolog.Logger, copier Copier) *Impl {
	return NewWithClock(logger, copier, time.Now)
}

// NewWithClock creates a new archive service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, copier Copier, now func() time.Time) *Impl {
	return &Impl{
		copier: copier,
		logger: logger,
		now:    now,
		stat:   os.Stat,
	}
}

// ArtifactName returns the archive file name for the given prefix and time.
func ArtifactName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", prefix, t.Format(TimestampFormat))
}

// ArtifactPattern returns the expression matching archive names with the given prefix.
func ArtifactPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_\d{8}_\d{6}\.tar\.gz$`)
}

// StagingNames maps every source path to the name it gets inside the archive.
// Two sources sharing a base name are rejected.
func StagingNames(sources []string) (map[string]string, error) {
	names := make(map[string]string, len(sources))
	seen := make(map[string]string, len(sources))
	for _, src := range sources {
		base := path.Base(path.Clean(src))
		if base == "/" || base == "." || base == ".." {
			return nil, fmt.Errorf("world path %q has no usable base name", src)
		}
		if other, ok := seen[base]; ok {
			return nil, fmt.Errorf("world paths %q and %q share base name %q", other, src, base)
		}
		seen[base] = src
		names[src] = base
	}
	return names, nil
}

// Build copies every world path out of the container and writes one tar.gz archive.
// A failure on any source aborts the build; no partial archive is kept.
func (s *Impl) Build(ctx context.Context, cfg models.BackupConfig) (*models.ArchiveResult, error) {
	start := s.now()
	result := &models.ArchiveResult{}

	prefix := cfg.ArchivePrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	names, err := StagingNames(cfg.WorldPaths)
	if err != nil {
		result.Error = err
		return result, nil
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create backup directory: %w", err)
		return result, nil
	}

	timestamp := start.Format(TimestampFormat)
	stagingDir, err := os.MkdirTemp(cfg.BackupDir, stagingPrefix+timestamp+"_*")
	if err != nil {
		result.Error = fmt.Errorf("failed to create staging directory: %w", err)
		return result, nil
	}
	defer func() {
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("staging", stagingDir).Msg("failed to remove staging directory")
		}
	}()

	s.logger.Info().
		Str("container", cfg.ContainerName).
		Strs("sources", cfg.WorldPaths).
		Str("staging", stagingDir).
		Msg("extracting world data")

	for _, src := range cfg.WorldPaths {
		target := filepath.Join(stagingDir, names[src])
		if err := s.copier.CopyFrom(ctx, cfg.ContainerName, src, target); err != nil {
			result.Error = fmt.Errorf("extracting %s: %w", src, err)
			result.Duration = s.now().Sub(start)
			return result, nil
		}
	}

	archivePath := filepath.Join(cfg.BackupDir, ArtifactName(prefix, start))
	entries, err := s.writeArchive(ctx, stagingDir, archivePath, cfg.Compression)
	if err != nil {
		result.Error = err
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	result.Path = archivePath
	result.Entries = entries
	if info, err := s.stat(archivePath); err != nil {
		s.logger.Warn().Err(err).Str("archive", archivePath).Msg("failed to read archive size")
	} else {
		result.SizeBytes = info.Size()
	}
	result.Duration = s.now().Sub(start)

	s.logger.Info().
		Str("archive", archivePath).
		Int("entries", entries).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))).
		Dur("duration", result.Duration).
		Msg("archive created")

	return result, nil
}

// writeArchive writes the contents of srcDir (not srcDir itself) to archivePath
// through a temp file that is renamed into place once complete.
func (s *Impl) writeArchive(ctx context.Context, srcDir, archivePath, level string) (entries int, retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".worldkeeper-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	entries, err = writeTarGz(ctx, tmp, srcDir, level)
	if err != nil {
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp archive: %w", err)
	}

	if err := publish(tmpPath, archivePath); err != nil {
		return 0, err
	}
	return entries, nil
}

// publish moves the finished temp archive to archivePath without replacing an existing file.
func publish(tmpPath, archivePath string) error {
	err := os.Link(tmpPath, archivePath)
	if err == nil {
		_ = os.Remove(tmpPath)
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("archive %s already exists", archivePath)
	}

	// Filesystems without hard links fall back to a checked rename.
	if _, statErr := os.Lstat(archivePath); statErr == nil {
		return fmt.Errorf("archive %s already exists", archivePath)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

func writeTarGz(ctx context.Context, w io.Writer, srcDir, level string) (entries int, retErr error) {
	bufWriter := bufio.NewWriterSize(w, ioBufferSize)

	gzWriter, err := pgzip.NewWriterLevel(bufWriter, gzipLevel(level))
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tarWriter := tar.NewWriter(gzWriter)

	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := gzWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("gzip writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	walkErr := filepath.WalkDir(srcDir, func(absPath string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if absPath == srcDir {
			return nil
		}

		rel, err := filepath.Rel(srcDir, absPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", absPath, err)
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", absPath, err)
		}

		if err := addEntry(tarWriter, absPath, filepath.ToSlash(rel), info); err != nil {
			return err
		}
		entries++
		return nil
	})
	if walkErr != nil {
		return 0, fmt.Errorf("failed to write archive: %w", walkErr)
	}
	return entries, nil
}

func addEntry(tw *tar.Writer, absPath, name string, info os.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(absPath)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", absPath, err)
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", name, err)
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(absPath) //nolint:gosec // path comes from walking our own staging dir
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", absPath, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func gzipLevel(level string) int {
	switch level {
	case LevelFastest:
		return pgzip.BestSpeed
	case LevelBest:
		return pgzip.BestCompression
	default:
		return pgzip.DefaultCompression
	}
}
