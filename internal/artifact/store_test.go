package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestSaveInputRoundTrip(t *testing.T) {
	store := newTestStore(t)
	payload := "not really an mp4 but close enough"

	written, err := store.SaveInput("vid1", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("SaveInput: %v", err)
	}
	if written != int64(len(payload)) {
		t.Fatalf("wrote %d bytes, want %d", written, len(payload))
	}

	data, err := os.ReadFile(store.InputPath("vid1"))
	if err != nil {
		t.Fatalf("read input back: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("input content mismatch")
	}

	size, err := store.InputStat("vid1")
	if err != nil {
		t.Fatalf("InputStat: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("InputStat = %d, want %d", size, len(payload))
	}

	// No temp files should survive the rename.
	entries, err := os.ReadDir(filepath.Join(store.Root(), "vid1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}

func TestSaveInputOverwrites(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveInput("vid1", strings.NewReader("first")); err != nil {
		t.Fatalf("first SaveInput: %v", err)
	}
	if _, err := store.SaveInput("vid1", strings.NewReader("second upload")); err != nil {
		t.Fatalf("second SaveInput: %v", err)
	}
	data, err := os.ReadFile(store.InputPath("vid1"))
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if string(data) != "second upload" {
		t.Fatalf("got %q after overwrite", data)
	}
}

func TestJobOutputLifecycle(t *testing.T) {
	store := newTestStore(t)

	dir, err := store.JobOutputDir("vid1", "job1")
	if err != nil {
		t.Fatalf("JobOutputDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part_00.mp4"), []byte("seg"), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	if err := store.RemoveJobOutput("vid1", "job1"); err != nil {
		t.Fatalf("RemoveJobOutput: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("job dir still present after removal")
	}
	// Removing again is a no-op.
	if err := store.RemoveJobOutput("vid1", "job1"); err != nil {
		t.Fatalf("repeat RemoveJobOutput: %v", err)
	}
}

func TestRemoveVideo(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SaveInput("vid1", strings.NewReader("data")); err != nil {
		t.Fatalf("SaveInput: %v", err)
	}
	if _, err := store.JobOutputDir("vid1", "job1"); err != nil {
		t.Fatalf("JobOutputDir: %v", err)
	}
	if err := store.RemoveVideo("vid1"); err != nil {
		t.Fatalf("RemoveVideo: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "vid1")); !os.IsNotExist(err) {
		t.Fatalf("video tree still present")
	}
}

func TestDescribeSegment(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("segment bytes")
	path := filepath.Join(dir, "part_00.mp4")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	size, digest, err := DescribeSegment(path)
	if err != nil {
		t.Fatalf("DescribeSegment: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", size, len(payload))
	}
	want := sha256.Sum256(payload)
	if digest != hex.EncodeToString(want[:]) {
		t.Fatalf("digest mismatch: %s", digest)
	}

	if _, _, err := DescribeSegment(filepath.Join(dir, "missing.mp4")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNormalizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"movie.mp4", "movie.mp4"},
		{"  движение.mp4 ", "движение.mp4"},
		{"../../etc/passwd", "passwd"},
		{"dir/nested/clip.mp4", "clip.mp4"},
		// Decomposed e + combining acute collapses to the precomposed form.
		{"café.mp4", "café.mp4"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeFilename(tc.in); got != tc.want {
			t.Errorf("NormalizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
