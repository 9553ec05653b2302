// Package transcode runs ffmpeg to split a source video into a fixed number
// of segments.
package transcode

import (
	"context"
	"errors"
)

// Profiles supported by the splitter. Fast stream-copies the input, heavy
// re-encodes with a scale and sharpen filter chain.
const (
	ProfileFast  = "fast"
	ProfileHeavy = "heavy"
)

var (
	// ErrPrecondition marks failures detected before ffmpeg starts, such as
	// a missing or empty input file.
	ErrPrecondition = errors.New("transcode: precondition failed")
	// ErrTimeout marks a run killed because it exceeded its deadline.
	ErrTimeout = errors.New("transcode: timed out")
	// ErrExecution marks an ffmpeg run that started but exited non-zero or
	// produced no output.
	ErrExecution = errors.New("transcode: execution failed")
)

// Params describes one split request.
type Params struct {
	Parts   int
	Profile string
}

// SegmentFile is one output produced by a successful run, in playback order.
type SegmentFile struct {
	Index int
	Path  string
}

// Executor turns an input file into ordered segment files under outputDir.
type Executor interface {
	Execute(ctx context.Context, inputPath string, params Params, outputDir string) ([]SegmentFile, error)
}
