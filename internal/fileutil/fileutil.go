// Package fileutil provides file and path utility functions for the
// xtts-generate command.
//
// This package focuses on platform-agnostic ways to validate input paths,
// prepare output locations, and format data for log messages, adhering to
// Go's best practices for clarity, error handling, and maintainability.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Directory permissions for created output and log directories.
const defaultDirPermissions = 0o750

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio file extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
)

// Error message and format string constants.
const (
	errPathNotFoundMsg                = "path not found"
	errFmtPathNotFound                = "%w: %s"
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingPath           = "error checking path %q: %w"
	errFmtFailedToCreateDir           = "failed to create directory %s: %w"
)

// ErrPathNotFound is returned when a required input path does not exist.
var ErrPathNotFound = errors.New(errPathNotFoundMsg)

// Resolve checks that a file or directory exists at the given path and
// returns its absolute representation. The absolute path is what gets handed
// to the engine process, which runs with its own working directory.
//
// A missing path returns an error wrapping ErrPathNotFound; any other file
// system error (for example a permission failure) is returned as-is, wrapped
// with the offending path.
func Resolve(path string) (string, error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", fmt.Errorf(errFmtPathNotFound, ErrPathNotFound, path)
		}

		return "", fmt.Errorf(errFmtErrorCheckingPath, path, statErr)
	}

	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, absErr)
	}

	return absPath, nil
}

// EnsureDir ensures a directory exists at the given path, creating it and
// any missing parents if needed.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// FileSize returns the size of the file at path, or zero when it cannot be
// determined. It exists for log messages only, so errors are deliberately
// swallowed.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}

// FormatDuration formats a duration in seconds as a human-readable string
// (e.g., "1h 15m", "5m 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size as a human-readable string (e.g.,
// "1.2 GB", "500.5 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsValidAudioFile checks if a filename has a common audio file extension.
// The engine's decoder has the final word; this only drives a warning for
// obviously wrong reference files.
func IsValidAudioFile(filename string) bool {
	ext := filepath.Ext(filename)
	switch ext {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}
