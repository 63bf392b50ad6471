package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/db"
	"github.com/flexgen/api/internal/models"
	"github.com/flexgen/api/internal/queue"
	"github.com/flexgen/api/internal/render"
	"github.com/flexgen/api/internal/selector"
)

// Store is the persistence surface the worker needs. *db.DB satisfies it.
type Store interface {
	GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	MarkGenerationProcessing(ctx context.Context, id uuid.UUID) error
	SetGenerationSequence(ctx context.Context, id uuid.UUID, seq models.ClipSequence, reasoning models.AIReasoning) error
	MarkGenerationCompleted(ctx context.Context, id uuid.UUID, outputPath, captionText string, meta models.CaptionMetadata) error
	MarkGenerationFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	GetCreator(ctx context.Context, id uuid.UUID) (*models.Creator, error)
	GetAudioTrack(ctx context.Context, id uuid.UUID) (*models.AudioTrack, error)
	GetActiveClips(ctx context.Context, creatorID uuid.UUID) ([]models.Clip, error)
	GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error)
	UpdateClipAnalysis(ctx context.Context, id uuid.UUID, analysis models.ClipAnalysis) error
}

// Composer proposes and filters caption candidates for a finished sequence.
type Composer interface {
	Compose(ctx context.Context, req caption.Request) ([]caption.Candidate, error)
}

// ClipAnalyzer extracts structured metadata from a clip's video content.
// Nil disables background analysis.
type ClipAnalyzer interface {
	AnalyzeClip(ctx context.Context, filePath string) (models.ClipAnalysis, error)
}

type Worker struct {
	store    Store
	queue    *queue.Queue
	selector *selector.Selector
	renderer render.Renderer
	composer Composer
	analyzer ClipAnalyzer
}

func New(store Store, q *queue.Queue, sel *selector.Selector, renderer render.Renderer, composer Composer, analyzer ClipAnalyzer) *Worker {
	return &Worker{
		store:    store,
		queue:    q,
		selector: sel,
		renderer: renderer,
		composer: composer,
		analyzer: analyzer,
	}
}

// Start begins processing jobs from all queues until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueGenerate, w.handleGenerate)
		go w.processQueue(ctx, queue.QueueAnalyzeClip, w.handleAnalyzeClip)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				continue
			}
			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (type: %s)", job.ID, job.Type)

			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
			} else {
				log.Printf("Job %s completed", job.ID)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Generate pipeline: selection → render → caption
// ---------------------------------------------------------------------------

func (w *Worker) handleGenerate(ctx context.Context, job *queue.Job) error {
	if job.GenerationID == nil {
		return fmt.Errorf("generate job missing generation_id")
	}
	return w.RunGeneration(ctx, *job.GenerationID)
}

// RunGeneration drives one generation through the full pipeline. A stage
// failure marks the generation failed with a stage-tagged message and skips
// every later stage; already-persisted stage output (the clip sequence) is
// kept for diagnostics.
func (w *Worker) RunGeneration(ctx context.Context, generationID uuid.UUID) error {
	if err := w.store.MarkGenerationProcessing(ctx, generationID); err != nil {
		if errors.Is(err, db.ErrConflict) {
			// Another worker claimed it, or it was already driven to a
			// terminal state. Not an error for this consumer.
			log.Printf("[Worker] Generation %s not pending, skipping", generationID)
			return nil
		}
		return fmt.Errorf("failed to claim generation: %w", err)
	}

	gen, err := w.store.GetGeneration(ctx, generationID)
	if err != nil {
		return w.failGeneration(ctx, generationID, "selection", fmt.Errorf("failed to load generation: %w", err))
	}

	// Snapshot reads: the pipeline works off these copies, so concurrent
	// catalog or timeline edits never affect an in-flight job.
	creator, err := w.store.GetCreator(ctx, gen.CreatorID)
	if err != nil {
		return w.failGeneration(ctx, generationID, "selection", fmt.Errorf("failed to load creator: %w", err))
	}
	audio, err := w.store.GetAudioTrack(ctx, gen.AudioID)
	if err != nil {
		return w.failGeneration(ctx, generationID, "selection", fmt.Errorf("failed to load audio track: %w", err))
	}
	timeline := audio.BeatTimeline.Clone()

	catalog, err := w.store.GetActiveClips(ctx, gen.CreatorID)
	if err != nil {
		return w.failGeneration(ctx, generationID, "selection", fmt.Errorf("failed to load clips: %w", err))
	}
	catalog = restrictCatalog(catalog, gen.RequestedClipIDs)

	// Stage 1: clip selection
	result, err := w.selector.Select(ctx, creator.BrandProfile, timeline, catalog)
	if err != nil {
		return w.failGeneration(ctx, generationID, "selection", err)
	}
	if err := w.store.SetGenerationSequence(ctx, generationID, result.Sequence,
		models.AIReasoning{RankerSource: result.RankerSource}); err != nil {
		return w.failGeneration(ctx, generationID, "selection", fmt.Errorf("failed to persist sequence: %w", err))
	}

	// Stage 2: render
	renderJob, err := w.buildRenderJob(gen, audio, timeline, catalog, result.Sequence)
	if err != nil {
		return w.failGeneration(ctx, generationID, "render", err)
	}
	outputPath, err := w.renderer.Render(ctx, renderJob)
	if err != nil {
		return w.failGeneration(ctx, generationID, "render", err)
	}

	// Stage 3: caption
	candidates, err := w.composer.Compose(ctx, caption.Request{
		Profile:          creator.BrandProfile,
		Rules:            creator.CaptionRules,
		AudioContext:     audio.Context,
		ClipDescriptions: describeSequence(result.Sequence, catalog),
	})
	if err != nil {
		return w.failGeneration(ctx, generationID, "caption", err)
	}
	if len(candidates) == 0 {
		return w.failGeneration(ctx, generationID, "caption", caption.ErrAllFiltered)
	}

	best := candidates[0]
	meta := models.CaptionMetadata{
		HookType:        best.HookType,
		EstimatedLength: best.Length,
		CTAIncluded:     creator.CaptionRules.WithDefaults().CTAStyle != "",
		CandidateCount:  len(candidates),
	}
	if err := w.store.MarkGenerationCompleted(ctx, generationID, outputPath, best.Text, meta); err != nil {
		return fmt.Errorf("failed to mark generation completed: %w", err)
	}

	log.Printf("[Worker] Generation %s completed: %s", generationID, outputPath)
	return nil
}

// failGeneration records a terminal failure with its pipeline stage prefixed
// so operators can tell where the job died without reading logs.
func (w *Worker) failGeneration(ctx context.Context, id uuid.UUID, stage string, cause error) error {
	msg := fmt.Sprintf("%s: %v", stage, cause)

	var renderErr *render.RenderError
	if errors.As(cause, &renderErr) {
		msg = fmt.Sprintf("%s: %s: %v", stage, renderErr.Kind, renderErr.Err)
	}

	if err := w.store.MarkGenerationFailed(ctx, id, msg); err != nil {
		log.Printf("[Worker] Failed to mark generation %s failed: %v", id, err)
	}
	log.Printf("[Worker] Generation %s failed at %s stage: %v", id, stage, cause)
	return fmt.Errorf("generation %s: %s", id, msg)
}

// restrictCatalog filters to the requested clip IDs, preserving catalog order
// (which is the selector's deterministic tiebreak). Empty ids means no
// restriction.
func restrictCatalog(catalog []models.Clip, ids models.UUIDList) []models.Clip {
	if len(ids) == 0 {
		return catalog
	}
	allowed := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	var out []models.Clip
	for _, clip := range catalog {
		if allowed[clip.ID] {
			out = append(out, clip)
		}
	}
	return out
}

func (w *Worker) buildRenderJob(gen *models.Generation, audio *models.AudioTrack, timeline models.BeatTimeline, catalog []models.Clip, seq models.ClipSequence) (render.Job, error) {
	byID := make(map[uuid.UUID]models.Clip, len(catalog))
	for _, clip := range catalog {
		byID[clip.ID] = clip
	}

	clips := make([]render.SequenceClip, 0, len(seq))
	for _, item := range seq {
		clip, ok := byID[item.ClipID]
		if !ok {
			return render.Job{}, fmt.Errorf("sequence references unknown clip %s", item.ClipID)
		}
		if item.SegmentIndex < 0 || item.SegmentIndex >= len(timeline) {
			return render.Job{}, fmt.Errorf("sequence item has out-of-range segment index %d", item.SegmentIndex)
		}
		clips = append(clips, render.SequenceClip{
			Item:     item,
			Segment:  timeline[item.SegmentIndex],
			FilePath: clip.FilePath,
		})
	}

	return render.Job{
		GenerationID:    gen.ID,
		CreatorID:       gen.CreatorID,
		Clips:           clips,
		AudioPath:       audio.FilePath,
		AudioDurationMs: audio.DurationMs,
	}, nil
}

// describeSequence turns the chosen clips into short ordered descriptions for
// the caption source. Analysis text is preferred; manual tags are the
// fallback for unanalyzed clips.
func describeSequence(seq models.ClipSequence, catalog []models.Clip) []string {
	byID := make(map[uuid.UUID]models.Clip, len(catalog))
	for _, clip := range catalog {
		byID[clip.ID] = clip
	}

	descs := make([]string, 0, len(seq))
	for _, item := range seq {
		clip, ok := byID[item.ClipID]
		if !ok {
			continue
		}
		if clip.Analysis.VisualContent != "" {
			descs = append(descs, clip.Analysis.VisualContent)
			continue
		}
		desc := clip.Category
		if clip.Mood != "" {
			desc = fmt.Sprintf("%s (%s)", desc, clip.Mood)
		}
		descs = append(descs, desc)
	}
	return descs
}

// ---------------------------------------------------------------------------
// Clip analysis
// ---------------------------------------------------------------------------

func (w *Worker) handleAnalyzeClip(ctx context.Context, job *queue.Job) error {
	if job.ClipID == nil {
		return fmt.Errorf("analyze job missing clip_id")
	}
	if w.analyzer == nil {
		log.Printf("[Worker] Clip analysis disabled, skipping clip %s", job.ClipID)
		return nil
	}

	clip, err := w.store.GetClip(ctx, *job.ClipID)
	if err != nil {
		return fmt.Errorf("failed to load clip %s: %w", job.ClipID, err)
	}

	// Analysis is best-effort enrichment: failure leaves the clip usable on
	// its manual tags.
	analysis, err := w.analyzer.AnalyzeClip(ctx, clip.FilePath)
	if err != nil {
		return fmt.Errorf("analysis of clip %s failed: %w", clip.ID, err)
	}

	if err := w.store.UpdateClipAnalysis(ctx, clip.ID, analysis); err != nil {
		return fmt.Errorf("failed to store analysis for clip %s: %w", clip.ID, err)
	}

	log.Printf("[Worker] Clip %s analyzed", clip.ID)
	return nil
}
