package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSegmentArgsFastProfile(t *testing.T) {
	args := segmentArgs("/in/input.mp4", Params{Parts: 4, Profile: ProfileFast}, 120, "/out")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-c copy") {
		t.Fatalf("fast profile should stream-copy: %s", joined)
	}
	if strings.Contains(joined, "libx264") {
		t.Fatalf("fast profile should not re-encode: %s", joined)
	}
	if !strings.Contains(joined, "-segment_time 30") {
		t.Fatalf("expected 30s segment time for 120s/4 parts: %s", joined)
	}
	if args[len(args)-1] != filepath.Join("/out", "part_%02d.mp4") {
		t.Fatalf("unexpected output pattern: %s", args[len(args)-1])
	}
}

func TestSegmentArgsHeavyProfile(t *testing.T) {
	args := segmentArgs("/in/input.mp4", Params{Parts: 2, Profile: ProfileHeavy}, 60, "/out")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-vf scale=1280:-2,unsharp=5:5:1.0",
		"-c:v libx264",
		"-preset slower",
		"-crf 20",
		"-c:a aac",
		"-b:a 128k",
		"-reset_timestamps 1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("heavy profile missing %q: %s", want, joined)
		}
	}
}

func TestSegmentArgsFloorsSegmentTime(t *testing.T) {
	// A one second clip split into 100 parts would yield 0.01s segments;
	// the floor keeps ffmpeg from producing hundreds of empty files.
	args := segmentArgs("/in/input.mp4", Params{Parts: 100, Profile: ProfileFast}, 1, "/out")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-segment_time 0.1") {
		t.Fatalf("expected floored segment time: %s", joined)
	}
}

func TestExecuteMissingInput(t *testing.T) {
	exec := &FFmpegExecutor{}
	_, err := exec.Execute(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"), Params{Parts: 2, Profile: ProfileFast}, t.TempDir())
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

func TestExecuteEmptyInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(input, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	exec := &FFmpegExecutor{}
	_, err := exec.Execute(context.Background(), input, Params{Parts: 2, Profile: ProfileFast}, dir)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

// writeStub installs an executable shell script standing in for ffmpeg or
// ffprobe.
func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func TestExecuteTimeout(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(input, []byte("data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	outputDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Simulate a run killed mid-flight with partial output already on disk.
	if err := os.WriteFile(filepath.Join(outputDir, "part_00.mp4"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}

	exec := &FFmpegExecutor{
		FFprobePath: writeStub(t, dir, "ffprobe", "echo 2.0\n"),
		FFmpegPath:  writeStub(t, dir, "ffmpeg", "sleep 5\n"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := exec.Execute(ctx, input, Params{Parts: 2, Profile: ProfileFast}, outputDir)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrExecution) {
		t.Fatalf("timeout must not double as an execution error: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outputDir, "part_00.mp4")); !os.IsNotExist(statErr) {
		t.Fatalf("partial output survived the timeout: %v", statErr)
	}
}

func TestExecuteFailureReportsStderr(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(input, []byte("data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	exec := &FFmpegExecutor{
		FFprobePath: writeStub(t, dir, "ffprobe", "echo 2.0\n"),
		FFmpegPath:  writeStub(t, dir, "ffmpeg", "echo 'codec mismatch' >&2\nexit 1\n"),
	}

	_, err := exec.Execute(context.Background(), input, Params{Parts: 2, Profile: ProfileFast}, dir)
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "codec mismatch") {
		t.Fatalf("stderr detail missing: %v", err)
	}
}

func TestCollectSegmentsSortedWithIndices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"part_02.mp4", "part_00.mp4", "part_01.mp4", "ignored.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	segments, err := collectSegments(dir)
	if err != nil {
		t.Fatalf("collectSegments: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}
	for i, segment := range segments {
		if segment.Index != i {
			t.Fatalf("segment %d has index %d", i, segment.Index)
		}
		if filepath.Base(segment.Path) != []string{"part_00.mp4", "part_01.mp4", "part_02.mp4"}[i] {
			t.Fatalf("segment %d out of order: %s", i, segment.Path)
		}
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("a\nb\nfinal error\n"); got != "final error" {
		t.Fatalf("lastLine = %q", got)
	}
	if got := lastLine(""); got != "" {
		t.Fatalf("lastLine of empty = %q", got)
	}
}
