// Package render turns a clip sequence plus an audio track into a single
// output video. The contract and error taxonomy live here; the FFmpeg
// implementation is the only production renderer.
package render

import (
	"context"
	"fmt"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

// ErrorKind classifies render failures. All kinds are job-terminal; retry
// policy lives with the caller, not here.
type ErrorKind string

const (
	// KindMissingSourceFile means a referenced clip or audio file vanished —
	// upstream data corruption rather than a transient render issue.
	KindMissingSourceFile ErrorKind = "missing_source_file"
	KindCodecFailure      ErrorKind = "codec_failure"
	KindTimeout           ErrorKind = "timeout"
)

// RenderError wraps a render failure with its classification.
type RenderError struct {
	Kind ErrorKind
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed (%s): %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// SequenceClip pairs a sequence item with its resolved source file and the
// beat segment it fills.
type SequenceClip struct {
	Item     models.ClipSequenceItem
	Segment  models.BeatSegment
	FilePath string
}

// Job is one render request. Clips are in timeline order; the output video's
// total duration equals AudioDurationMs, with each clip trimmed or looped to
// its segment window and the audio replaced by the selected track.
type Job struct {
	GenerationID    uuid.UUID
	CreatorID       uuid.UUID
	Clips           []SequenceClip
	AudioPath       string
	AudioDurationMs int
	Caption         string // empty = no overlay
}

// Renderer produces the final artifact for a job, returning the output path.
type Renderer interface {
	Render(ctx context.Context, job Job) (string, error)
}
