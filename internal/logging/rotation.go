// Package logging provides a rotating log file sink and a startup
// retention cleanup for the log directory. Rotation is size-based;
// files are not rotated daily or hourly. The retention window is
// measured in days, and on startup files older than it are deleted
// (spec §6.3). Grounded in the retrieval pack's
// use of gopkg.in/natefinch/lumberjack.v2 for exactly this concern
// (e.g. AKJUS-bsc-erigon), since the teacher repo (midaz) logs to
// stdout and carries no rotation dependency of its own.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFile returns a lumberjack-backed io.Writer rooted at dir. It
// rotates when the file reaches MaxSize (100 MB), not on a daily or
// hourly schedule, and removes rotated files older than retentionDays
// (MaxAge).
func RotatingFile(dir, filename string, retentionDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:  filepath.Join(dir, filename),
		MaxAge:    retentionDays,
		MaxSize:   100, // megabytes
		MaxBackups: 0,   // unbounded count, bounded by MaxAge instead
		Compress:  true,
	}
}

// PruneOldLogs deletes files under dir older than retentionDays,
// performed once at startup in addition to lumberjack's own MaxAge
// enforcement (spec §6.3 "on startup, files older than retention are
// deleted").
func PruneOldLogs(dir string, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}

	return nil
}
