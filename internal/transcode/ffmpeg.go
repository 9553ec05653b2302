package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const outputPattern = "part_%02d.mp4"

// FFmpegExecutor shells out to ffmpeg and ffprobe. Binary paths default to
// whatever PATH resolves.
type FFmpegExecutor struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

func (e *FFmpegExecutor) ffmpeg() string {
	if e.FFmpegPath != "" {
		return e.FFmpegPath
	}
	return "ffmpeg"
}

func (e *FFmpegExecutor) ffprobe() string {
	if e.FFprobePath != "" {
		return e.FFprobePath
	}
	return "ffprobe"
}

func (e *FFmpegExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ProbeDuration reports an input file's duration in seconds via ffprobe.
func (e *FFmpegExecutor) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v", ErrExecution, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: could not determine video duration", ErrPrecondition)
	}
	return duration, nil
}

// segmentArgs builds the ffmpeg argument list for one run. The segment time
// divides the duration across the requested part count, floored at 0.1s so
// very short inputs still produce output.
func segmentArgs(inputPath string, params Params, durationSeconds float64, outputDir string) []string {
	parts := params.Parts
	if parts < 1 {
		parts = 1
	}
	segmentTime := durationSeconds / float64(parts)
	if segmentTime < 0.1 {
		segmentTime = 0.1
	}

	args := []string{"-y", "-i", inputPath}
	if params.Profile == ProfileFast {
		args = append(args, "-c", "copy")
	} else {
		args = append(args,
			"-vf", "scale=1280:-2,unsharp=5:5:1.0",
			"-c:v", "libx264", "-preset", "slower", "-crf", "20",
			"-c:a", "aac", "-b:a", "128k",
		)
	}
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segmentTime, 'f', -1, 64),
		"-reset_timestamps", "1",
		filepath.Join(outputDir, outputPattern),
	)
	return args
}

// Execute probes the input, runs ffmpeg with the profile's argument set, and
// returns the produced segments sorted by filename. Partial output from a
// failed or timed-out run is removed before returning.
func (e *FFmpegExecutor) Execute(ctx context.Context, inputPath string, params Params, outputDir string) ([]SegmentFile, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: input %s: %v", ErrPrecondition, inputPath, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: input %s is empty", ErrPrecondition, inputPath)
	}

	duration, err := e.ProbeDuration(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	args := segmentArgs(inputPath, params, duration, outputDir)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpeg(), args...)
	cmd.Stderr = &stderr

	e.logger().Debug("starting ffmpeg",
		slog.String("input", inputPath),
		slog.Int("parts", params.Parts),
		slog.String("profile", params.Profile))

	if runErr := cmd.Run(); runErr != nil {
		removeSegments(outputDir)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		detail := lastLine(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%w: %v: %s", ErrExecution, runErr, detail)
		}
		return nil, fmt.Errorf("%w: %v", ErrExecution, runErr)
	}

	segments, err := collectSegments(outputDir)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg exited cleanly but produced no segments", ErrExecution)
	}
	return segments, nil
}

func collectSegments(outputDir string) ([]SegmentFile, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "part_*.mp4"))
	if err != nil {
		return nil, fmt.Errorf("%w: list output: %v", ErrExecution, err)
	}
	sort.Strings(matches)
	segments := make([]SegmentFile, 0, len(matches))
	for i, path := range matches {
		segments = append(segments, SegmentFile{Index: i, Path: path})
	}
	return segments, nil
}

func removeSegments(outputDir string) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "part_*.mp4"))
	if err != nil {
		return
	}
	for _, path := range matches {
		os.Remove(path)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
