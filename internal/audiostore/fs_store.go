// Package audiostore provides the audio artifact stores backing the segment
// pipeline. An artifact lives in a "current" area until its segment is
// acknowledged, then moves to an "archive" area until retention purges it.
// Locations are opaque keys: "current/<id>.mp3" or "archive/<id>.mp3".
package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/crypto-fm/segment-service/internal/core"
)

// Location area prefixes.
const (
	currentPrefix = "current/"
	archivePrefix = "archive/"
	audioExt      = ".mp3"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrBadLocation indicates a location key outside the current/archive areas.
var ErrBadLocation = errors.New("malformed audio location")

// invalidKeyReplacer strips characters that are unsafe in object keys and
// filenames from segment-derived names.
var invalidKeyReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_",
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
)

// CurrentLocation builds the current-area location for a segment id.
func CurrentLocation(segmentID string) string {
	return currentPrefix + invalidKeyReplacer.Replace(segmentID) + audioExt
}

// archiveLocation converts a current-area location to its archive twin.
func archiveLocation(location string) string {
	return archivePrefix + strings.TrimPrefix(location, currentPrefix)
}

// FSStore stores artifacts as local files under a current directory and an
// archive directory. Archiving is an os.Rename, so it either fully succeeds or
// leaves the artifact at its original path.
type FSStore struct {
	currentDir string
	archiveDir string
	baseURL    string
}

// NewFSStore creates a filesystem artifact store. Both directories are created
// as needed.
func NewFSStore(currentDir, archiveDir, baseURL string) (*FSStore, error) {
	for _, dir := range []string{currentDir, archiveDir} {
		mkdirErr := os.MkdirAll(dir, dirPermissions)
		if mkdirErr != nil {
			return nil, fmt.Errorf("%w: failed to create audio directory %s: %w",
				core.ErrStorage, dir, mkdirErr)
		}
	}

	return &FSStore{
		currentDir: currentDir,
		archiveDir: archiveDir,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// SaveCurrent writes the audio into the current area.
func (f *FSStore) SaveCurrent(
	_ context.Context,
	segmentID string,
	data []byte,
) (string, error) {
	location := CurrentLocation(segmentID)

	writeErr := os.WriteFile(f.resolve(location), data, filePermissions)
	if writeErr != nil {
		return "", fmt.Errorf("%w: failed to write audio %s: %w",
			core.ErrStorage, location, writeErr)
	}

	return location, nil
}

// Open streams the artifact file at a location.
func (f *FSStore) Open(_ context.Context, location string) (io.ReadCloser, error) {
	file, openErr := os.Open(f.resolve(location))
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, fmt.Errorf("%w: audio %s", core.ErrNotFound, location)
		}

		return nil, fmt.Errorf("%w: failed to open audio %s: %w",
			core.ErrStorage, location, openErr)
	}

	return file, nil
}

// Archive renames the artifact from the current into the archive directory.
// Already-archived locations are returned unchanged.
func (f *FSStore) Archive(_ context.Context, location string) (string, error) {
	if strings.HasPrefix(location, archivePrefix) {
		return location, nil
	}

	if !strings.HasPrefix(location, currentPrefix) {
		return "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}

	newLocation := archiveLocation(location)

	renameErr := os.Rename(f.resolve(location), f.resolve(newLocation))
	if renameErr != nil {
		return "", fmt.Errorf("%w: failed to archive %s: %w",
			core.ErrStorage, location, renameErr)
	}

	return newLocation, nil
}

// Delete removes the artifact. A missing file counts as already deleted.
func (f *FSStore) Delete(_ context.Context, location string) error {
	removeErr := os.Remove(f.resolve(location))
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("%w: failed to delete audio %s: %w",
			core.ErrStorage, location, removeErr)
	}

	return nil
}

// URL returns the consumer-facing URL, matching the audio route the delivery
// endpoint serves both areas from.
func (f *FSStore) URL(location string) string {
	return f.baseURL + "/audio/" + location
}

func (f *FSStore) resolve(location string) string {
	switch {
	case strings.HasPrefix(location, currentPrefix):
		return filepath.Join(f.currentDir, strings.TrimPrefix(location, currentPrefix))
	case strings.HasPrefix(location, archivePrefix):
		return filepath.Join(f.archiveDir, strings.TrimPrefix(location, archivePrefix))
	default:
		return filepath.Join(f.currentDir, location)
	}
}
