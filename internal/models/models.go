package models

import "time"

// JobState enumerates the lifecycle of a split job. States only move forward:
// queued -> running -> succeeded | failed. Both terminal states are final.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Valid reports whether the value is a member of the closed enumeration.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSucceeded, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// CanTransitionTo reports whether the transition graph permits moving from the
// receiver to the target state. Regressions and skips are rejected.
func (s JobState) CanTransitionTo(to JobState) bool {
	switch s {
	case JobQueued:
		return to == JobRunning || to == JobFailed
	case JobRunning:
		return to == JobSucceeded || to == JobFailed
	}
	return false
}

// JobMode selects how a split request executes.
type JobMode string

const (
	ModeSync  JobMode = "sync"
	ModeAsync JobMode = "async"
)

// Valid reports whether the mode is recognised.
func (m JobMode) Valid() bool {
	return m == ModeSync || m == ModeAsync
}

type Video struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Filename        string    `json:"filename"`
	InputPath       string    `json:"inputPath"`
	SizeBytes       int64     `json:"sizeBytes"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// VideoSummary is the listing projection returned by paginated queries.
type VideoSummary struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Filename        string    `json:"filename"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SplitParams captures the requested split configuration. Profile selects the
// ffmpeg filter chain: "fast" stream-copies, "heavy" re-encodes.
type SplitParams struct {
	Parts   int    `json:"parts"`
	Profile string `json:"profile"`
}

// Job is the append-only audit record of one processing attempt. It is created
// exactly once per split request and never deleted inside the retention window.
type Job struct {
	ID          string      `json:"id"`
	VideoID     string      `json:"videoId"`
	Params      SplitParams `json:"params"`
	Mode        JobMode     `json:"mode"`
	State       JobState    `json:"state"`
	Error       string      `json:"error,omitempty"`
	SegmentIDs  []string    `json:"segmentIds,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Segment is one output file produced by a successful job. Index is the
// 0-based playback order and is never reassigned after creation.
type Segment struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	VideoID   string    `json:"videoId"`
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"createdAt"`
}
