package models

import "time"

// BackupArtifact is one produced archive in the backup directory.
type BackupArtifact struct {
	Name    string
	Path    string
	ModTime time.Time
}

// ArchiveResult holds the result of building an archive.
type ArchiveResult struct {
	Path      string
	SizeBytes int64
	Entries   int
	Duration  time.Duration
	Error     error
}

// RetentionResult holds the result of applying the retention policy.
type RetentionResult struct {
	Kept     int
	Removed  []string
	Failed   []string
	Duration time.Duration
	Error    error
}
