// Package artifact manages the on-disk layout of uploaded inputs and the
// segment files produced by split jobs. All writes go through a temp file in
// the destination directory followed by a rename, so readers never observe a
// partially written artifact.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Store lays out artifacts under a single root directory:
//
//	<root>/<videoID>/input.mp4
//	<root>/<videoID>/jobs/<jobID>/part_NN.mp4
type Store struct {
	root string
}

// NewStore creates the root directory if necessary and returns a store
// rooted there.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// NormalizeFilename returns the NFC form of an uploaded filename with any
// path components stripped. Uploads arrive from browsers on multiple
// platforms and macOS submits decomposed unicode.
func NormalizeFilename(name string) string {
	cleaned := filepath.Base(strings.TrimSpace(name))
	if cleaned == "." || cleaned == string(filepath.Separator) {
		return ""
	}
	return norm.NFC.String(cleaned)
}

// InputPath returns the location of a video's uploaded source file.
func (s *Store) InputPath(videoID string) string {
	return filepath.Join(s.root, videoID, "input.mp4")
}

// SaveInput streams an upload to the video's input path and reports the
// number of bytes written. A failed write leaves no file behind.
func (s *Store) SaveInput(videoID string, r io.Reader) (int64, error) {
	dir := filepath.Join(s.root, videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create video dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "input-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp input: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("write input: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("sync input: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close input: %w", err)
	}
	if err := os.Rename(tmpName, s.InputPath(videoID)); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("finalize input: %w", err)
	}
	return written, nil
}

// InputStat reports the size of a video's input file.
func (s *Store) InputStat(videoID string) (int64, error) {
	info, err := os.Stat(s.InputPath(videoID))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// JobOutputDir returns the directory a job's segments are written to,
// creating it if needed.
func (s *Store) JobOutputDir(videoID, jobID string) (string, error) {
	dir := filepath.Join(s.root, videoID, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job output dir: %w", err)
	}
	return dir, nil
}

// RemoveJobOutput deletes a job's output directory and everything in it.
// Missing directories are not an error.
func (s *Store) RemoveJobOutput(videoID, jobID string) error {
	return os.RemoveAll(filepath.Join(s.root, videoID, "jobs", jobID))
}

// RemoveVideo deletes a video's entire artifact tree, input included.
func (s *Store) RemoveVideo(videoID string) error {
	return os.RemoveAll(filepath.Join(s.root, videoID))
}

// DescribeSegment reads a produced segment file and reports its size and
// hex-encoded sha256 digest.
func DescribeSegment(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash segment: %w", err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}
