//go:build integration

package integration

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/archive"
	"github.com/fgeck/worldkeeper/internal/services/container"
	"github.com/fgeck/worldkeeper/internal/services/retention"
	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The target container must be running and contain TEST_WORLD_PATH.
func getContainerName(t *testing.T) string {
	t.Helper()

	name := os.Getenv("TEST_CONTAINER_NAME")
	if name == "" {
		t.Skip("TEST_CONTAINER_NAME not set")
	}
	return name
}

func getWorldPath() string {
	if p := os.Getenv("TEST_WORLD_PATH"); p != "" {
		return p
	}
	return "/etc"
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func TestContainerIsRunning_Integration(t *testing.T) {
	name := getContainerName(t)

	svc := container.New(testLogger(), models.RuntimeConfig{})
	running, err := svc.IsRunning(context.Background(), name)

	require.NoError(t, err)
	assert.True(t, running)
}

func TestContainerUnknown_Integration(t *testing.T) {
	getContainerName(t)

	svc := container.New(testLogger(), models.RuntimeConfig{})
	result := svc.Start(context.Background(), "worldkeeper-does-not-exist")

	assert.Equal(t, models.StatusUnreachable, result.Status)
}

func TestArchiveAndRetention_Integration(t *testing.T) {
	name := getContainerName(t)
	backupDir := t.TempDir()

	containerSvc := container.New(testLogger(), models.RuntimeConfig{})
	archiveSvc := archive.New(testLogger(), containerSvc)

	cfg := models.BackupConfig{
		ContainerName: name,
		WorldPaths:    []string{getWorldPath()},
		BackupDir:     backupDir,
		ArchivePrefix: archive.DefaultPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := archiveSvc.Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.FileExists(t, result.Path)

	f, err := os.Open(result.Path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	require.NoError(t, err)
	hdr, err := tar.NewReader(gz).Next()
	if !errors.Is(err, io.EOF) {
		require.NoError(t, err)
		assert.NotContains(t, hdr.Name, ".staging_")
	}

	retentionSvc := retention.New(testLogger())
	retResult, err := retentionSvc.Apply(ctx, backupDir, archive.DefaultPrefix, models.RetentionPolicy{MaxBackups: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, retResult.Kept)
	assert.Empty(t, retResult.Removed)
}
