package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Output constants — portrait 1080x1920 at 30fps.
const (
	outputWidth  = 1080
	outputHeight = 1920
	videoFPS     = 30

	// How many clips are preprocessed concurrently per render.
	preprocessParallelism = 4
)

// FFmpegRenderer shells out to ffmpeg/ffprobe. Each render gets its own
// scratch directory under tempDir, removed when the render finishes.
type FFmpegRenderer struct {
	tempDir   string
	outputDir string
	timeout   time.Duration
}

func NewFFmpegRenderer(tempDir, outputDir string, timeout time.Duration) *FFmpegRenderer {
	for _, dir := range []string{tempDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			panic(fmt.Sprintf("failed to create render dir %s: %v", dir, err))
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FFmpegRenderer{tempDir: tempDir, outputDir: outputDir, timeout: timeout}
}

// Render assembles the clip sequence against the audio track:
//
//  1. each clip is trimmed (or looped when its window is shorter than the
//     segment) and normalized to the output resolution, audio stripped
//  2. the processed clips are concatenated with the concat demuxer
//  3. the selected audio track replaces the (absent) clip audio, and the
//     output is cut to the track duration
//  4. the caption, if any, is burned in with drawtext
//
// The whole pipeline runs under a wall-clock bound; exceeding it surfaces as
// RenderError{Timeout}. Missing inputs are detected up front and classified
// as MissingSourceFile.
func (r *FFmpegRenderer) Render(ctx context.Context, job Job) (string, error) {
	if err := checkSources(job); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scratch := filepath.Join(r.tempDir, "gen_"+job.GenerationID.String()[:8])
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	// Step 1: normalize each clip to its segment window and the output format.
	processed := make([]string, len(job.Clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preprocessParallelism)
	for i, sc := range job.Clips {
		i, sc := i, sc
		g.Go(func() error {
			outPath := filepath.Join(scratch, fmt.Sprintf("clip_%d.mp4", i))
			args := buildClipArgs(sc, outPath)
			log.Printf("[FFmpeg] Preprocessing clip %d/%d (%s, %dms window)",
				i+1, len(job.Clips), sc.Item.BeatSegment, sc.Segment.DurationMs)
			if err := runFFmpeg(gctx, args); err != nil {
				return fmt.Errorf("clip %d: %w", i, err)
			}
			processed[i] = outPath
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", classify(ctx, err)
	}

	// Step 2: concatenate.
	concatPath := filepath.Join(scratch, "concat.mp4")
	if err := r.concatenate(ctx, scratch, processed, concatPath); err != nil {
		return "", classify(ctx, err)
	}

	// Step 3: replace audio and cut to the track duration.
	withAudio := filepath.Join(scratch, "with_audio.mp4")
	audioArgs := []string{
		"-i", concatPath,
		"-i", job.AudioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", msToSeconds(job.AudioDurationMs),
		"-y",
		withAudio,
	}
	if err := runFFmpeg(ctx, audioArgs); err != nil {
		return "", classify(ctx, err)
	}

	// Step 4: caption overlay.
	outputPath := filepath.Join(r.outputDir, outputFilename(job))
	if job.Caption == "" {
		if err := os.Rename(withAudio, outputPath); err != nil {
			return "", fmt.Errorf("failed to move output: %w", err)
		}
		return outputPath, nil
	}

	captionArgs := []string{
		"-i", withAudio,
		"-vf", buildDrawtextFilter(job.Caption),
		"-c:a", "copy",
		"-y",
		outputPath,
	}
	if err := runFFmpeg(ctx, captionArgs); err != nil {
		return "", classify(ctx, err)
	}

	return outputPath, nil
}

// checkSources verifies every referenced file exists before any ffmpeg work.
func checkSources(job Job) error {
	paths := []string{job.AudioPath}
	for _, sc := range job.Clips {
		paths = append(paths, sc.FilePath)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return &RenderError{
				Kind: KindMissingSourceFile,
				Err:  fmt.Errorf("source file missing: %s", p),
			}
		}
	}
	return nil
}

// buildClipArgs produces the ffmpeg arguments that cut one clip to its
// segment window. When the in-clip window covers the segment, a plain
// seek+trim is enough; a relaxed (shorter) clip is looped until the segment
// duration is reached.
func buildClipArgs(sc SequenceClip, outPath string) []string {
	segDur := msToSeconds(sc.Segment.DurationMs)
	window := sc.Item.EndMs - sc.Item.StartMs

	var args []string
	if window < sc.Segment.DurationMs {
		args = []string{
			"-stream_loop", "-1",
			"-i", sc.FilePath,
			"-t", segDur,
		}
	} else {
		args = []string{
			"-ss", msToSeconds(sc.Item.StartMs),
			"-i", sc.FilePath,
			"-t", segDur,
		}
	}

	return append(args,
		"-vf", scalePadFilter(),
		"-r", fmt.Sprintf("%d", videoFPS),
		"-an", // clip audio is discarded; the track is the only audio
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-y",
		outPath,
	)
}

// scalePadFilter fits any source into the portrait canvas without cropping.
func scalePadFilter() string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		outputWidth, outputHeight, outputWidth, outputHeight,
	)
}

func (r *FFmpegRenderer) concatenate(ctx context.Context, scratch string, clipPaths []string, outputPath string) error {
	listPath := filepath.Join(scratch, "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, p := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", p)
	}
	f.Close()

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}
	return runFFmpeg(ctx, args)
}

// buildDrawtextFilter renders the caption centered near the bottom of the
// portrait frame, white with a black border for readability.
func buildDrawtextFilter(caption string) string {
	return fmt.Sprintf(
		"drawtext=text='%s':fontsize=42:fontcolor=white:borderw=3:bordercolor=black:x=(w-text_w)/2:y=h-th-200:line_spacing=10",
		escapeDrawtext(caption),
	)
}

// escapeDrawtext escapes the characters FFmpeg's drawtext filter treats
// specially.
func escapeDrawtext(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "'", "'\\''")
	text = strings.ReplaceAll(text, ":", "\\:")
	text = strings.ReplaceAll(text, "[", "\\[")
	text = strings.ReplaceAll(text, "]", "\\]")
	text = strings.ReplaceAll(text, "%", "\\%")
	return text
}

func outputFilename(job Job) string {
	return fmt.Sprintf("gen_%s_%s.mp4",
		job.GenerationID.String()[:8], time.Now().Format("20060102_150405"))
}

func msToSeconds(ms int) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000.0)
}

// runFFmpeg executes ffmpeg, keeping the stderr tail for error context.
func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (%s)", err, stderrTail(stderr.String()))
	}
	return nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	const maxLen = 400
	if len(s) > maxLen {
		s = "..." + s[len(s)-maxLen:]
	}
	return s
}

// classify maps low-level failures onto the render error taxonomy. A
// RenderError passes through untouched; a deadline hit is a Timeout;
// everything else that made ffmpeg fail is a CodecFailure.
func classify(ctx context.Context, err error) error {
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &RenderError{Kind: KindTimeout, Err: err}
	}
	return &RenderError{Kind: KindCodecFailure, Err: err}
}

// ProbeDurationMs returns a media file's duration in milliseconds.
func ProbeDurationMs(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return int(durationSec * 1000), nil
}
