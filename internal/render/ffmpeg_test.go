package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexgen/api/internal/models"
)

func TestBuildClipArgsTrimsWhenWindowCoversSegment(t *testing.T) {
	sc := SequenceClip{
		Item:     models.ClipSequenceItem{StartMs: 0, EndMs: 3000},
		Segment:  models.BeatSegment{DurationMs: 3000},
		FilePath: "/media/clips/a.mp4",
	}

	args := buildClipArgs(sc, "/tmp/out.mp4")

	assert.Contains(t, args, "-ss")
	assert.NotContains(t, args, "-stream_loop")
	assert.Contains(t, args, "3.000")
	assert.Contains(t, args, "-an")
}

func TestBuildClipArgsLoopsShortClip(t *testing.T) {
	// Duration-relaxed selection: 2000ms window against a 6000ms segment.
	sc := SequenceClip{
		Item:     models.ClipSequenceItem{StartMs: 0, EndMs: 2000},
		Segment:  models.BeatSegment{DurationMs: 6000},
		FilePath: "/media/clips/short.mp4",
	}

	args := buildClipArgs(sc, "/tmp/out.mp4")

	assert.Contains(t, args, "-stream_loop")
	assert.NotContains(t, args, "-ss")
	assert.Contains(t, args, "6.000", "loop runs for the full segment duration")
}

func TestEscapeDrawtext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"50% off", "50\\% off"},
		{"note: this", "note\\: this"},
		{"[bracketed]", "\\[bracketed\\]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeDrawtext(tt.in))
	}

	// Quotes must not terminate the filter expression.
	assert.Contains(t, escapeDrawtext("it's a vibe"), `'\''`)
}

func TestMsToSeconds(t *testing.T) {
	assert.Equal(t, "3.000", msToSeconds(3000))
	assert.Equal(t, "0.500", msToSeconds(500))
	assert.Equal(t, "12.345", msToSeconds(12345))
}

func TestCheckSourcesMissingClip(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("audio"), 0644))

	job := Job{
		GenerationID: uuid.New(),
		AudioPath:    audioPath,
		Clips: []SequenceClip{
			{FilePath: filepath.Join(dir, "nope.mp4")},
		},
	}

	err := checkSources(job)
	require.Error(t, err)

	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, KindMissingSourceFile, re.Kind)
}

func TestCheckSourcesMissingAudio(t *testing.T) {
	dir := t.TempDir()
	clipPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clipPath, []byte("video"), 0644))

	job := Job{
		GenerationID: uuid.New(),
		AudioPath:    filepath.Join(dir, "missing.mp3"),
		Clips:        []SequenceClip{{FilePath: clipPath}},
	}

	var re *RenderError
	require.True(t, errors.As(checkSources(job), &re))
	assert.Equal(t, KindMissingSourceFile, re.Kind)
}

func TestClassify(t *testing.T) {
	// An existing RenderError passes through unchanged.
	orig := &RenderError{Kind: KindMissingSourceFile, Err: errors.New("gone")}
	var re *RenderError
	require.True(t, errors.As(classify(context.Background(), orig), &re))
	assert.Equal(t, KindMissingSourceFile, re.Kind)

	// Deadline exhaustion is a timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	require.True(t, errors.As(classify(ctx, errors.New("signal: killed")), &re))
	assert.Equal(t, KindTimeout, re.Kind)

	// Anything else ffmpeg choked on is a codec failure.
	require.True(t, errors.As(classify(context.Background(), errors.New("exit status 1")), &re))
	assert.Equal(t, KindCodecFailure, re.Kind)
}

func TestRenderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &RenderError{Kind: KindCodecFailure, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "codec_failure")
}

func TestRenderMissingSourceFailsBeforeTimeoutClock(t *testing.T) {
	r := NewFFmpegRenderer(t.TempDir(), t.TempDir(), 0)

	job := Job{
		GenerationID: uuid.New(),
		AudioPath:    "/definitely/not/here.mp3",
	}

	_, err := r.Render(context.Background(), job)
	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, KindMissingSourceFile, re.Kind)
}
