// Package retention prunes backup artifacts by count and by age.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/archive"
	"github.com/rs/zerolog"
)

// Reasons an artifact is marked for deletion.
const (
	ReasonCount = "count"
	ReasonAge   = "age"
)

// Candidate is an artifact marked for deletion and the policies that marked it.
type Candidate struct {
	Artifact models.BackupArtifact
	Reasons  []string
}

// Decision is the outcome of evaluating a policy against a set of artifacts.
type Decision struct {
	Keep   []models.BackupArtifact
	Delete []Candidate
}

// Evaluate decides which artifacts to delete. It is a pure function of its inputs.
// Both policies are applied independently and their results are unioned.
func Evaluate(artifacts []models.BackupArtifact, policy models.RetentionPolicy, now time.Time) Decision {
	sorted := make([]models.BackupArtifact, len(artifacts))
	copy(sorted, artifacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].Name > sorted[j].Name
		}
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})

	var cutoff time.Time
	if policy.MaxDays > 0 {
		cutoff = now.Add(-time.Duration(policy.MaxDays) * 24 * time.Hour)
	}

	var decision Decision
	for rank, a := range sorted {
		var reasons []string
		if policy.MaxBackups > 0 && rank >= policy.MaxBackups {
			reasons = append(reasons, ReasonCount)
		}
		if policy.MaxDays > 0 && a.ModTime.Before(cutoff) {
			reasons = append(reasons, ReasonAge)
		}

		if len(reasons) == 0 {
			decision.Keep = append(decision.Keep, a)
			continue
		}
		decision.Delete = append(decision.Delete, Candidate{Artifact: a, Reasons: reasons})
	}
	return decision
}

// Service defines the interface for retention operations.
type Service interface {
	Apply(ctx context.Context, dir, prefix string, policy models.RetentionPolicy) (*models.RetentionResult, error)
}

// Remover deletes a file.
type Remover func(path string) error

// Impl implements the retention Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
	remove Remover
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return NewWithDeps(logger, time.Now, os.Remove)
}

// NewWithDeps creates a new retention service with a custom clock and remover (for testing).
func NewWithDeps(logger zerolog.Logger, now func() time.Time, remove Remover) *Impl {
	return &Impl{
		logger: logger,
		now:    now,
		remove: remove,
	}
}

// List returns the artifacts in dir whose names match the naming convention exactly.
// A missing directory yields no artifacts.
func List(dir, prefix string) ([]models.BackupArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", dir, err)
	}

	pattern := archive.ArtifactPattern(prefix)
	var artifacts []models.BackupArtifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !pattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between listing and stat.
			continue
		}
		artifacts = append(artifacts, models.BackupArtifact{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return artifacts, nil
}

// Apply lists the backup directory, evaluates the policy and deletes what it marks.
// Deletion is best-effort: a failure on one artifact does not stop the others.
func (s *Impl) Apply(ctx context.Context, dir, prefix string, policy models.RetentionPolicy) (*models.RetentionResult, error) {
	start := s.now()
	result := &models.RetentionResult{}

	if prefix == "" {
		prefix = archive.DefaultPrefix
	}

	if !policy.Enabled() {
		s.logger.Debug().Msg("retention policy disabled, skipping")
		return result, nil
	}

	s.logger.Info().
		Int("max_backups", policy.MaxBackups).
		Int("max_days", policy.MaxDays).
		Str("dir", dir).
		Msg("applying retention policy")

	artifacts, err := List(dir, prefix)
	if err != nil {
		result.Error = err
		return result, nil
	}

	decision := Evaluate(artifacts, policy, start)
	result.Kept = len(decision.Keep)

	for _, c := range decision.Delete {
		if err := ctx.Err(); err != nil {
			result.Error = err
			break
		}

		if err := s.remove(c.Artifact.Path); err != nil {
			s.logger.Warn().
				Err(err).
				Str("artifact", c.Artifact.Name).
				Msg("failed to delete backup, continuing")
			result.Failed = append(result.Failed, c.Artifact.Path)
			continue
		}

		s.logger.Info().
			Str("artifact", c.Artifact.Name).
			Strs("reasons", c.Reasons).
			Time("modified", c.Artifact.ModTime).
			Msg("deleted backup")
		result.Removed = append(result.Removed, c.Artifact.Path)
	}

	result.Duration = s.now().Sub(start)

	s.logger.Info().
		Int("kept", result.Kept).
		Int("removed", len(result.Removed)).
		Int("failed", len(result.Failed)).
		Msg("retention policy applied")

	return result, nil
}
