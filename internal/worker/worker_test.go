package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/db"
	"github.com/flexgen/api/internal/models"
	"github.com/flexgen/api/internal/render"
	"github.com/flexgen/api/internal/selector"
)

// fakeStore is an in-memory Store that honors the same status guards as the
// SQL layer.
type fakeStore struct {
	gen     *models.Generation
	creator *models.Creator
	audio   *models.AudioTrack
	clips   []models.Clip
}

func (s *fakeStore) GetGeneration(_ context.Context, id uuid.UUID) (*models.Generation, error) {
	if s.gen == nil || s.gen.ID != id {
		return nil, db.ErrNotFound
	}
	g := *s.gen
	return &g, nil
}

func (s *fakeStore) MarkGenerationProcessing(_ context.Context, id uuid.UUID) error {
	if s.gen.Status != models.GenerationStatusPending {
		return db.ErrConflict
	}
	s.gen.Status = models.GenerationStatusProcessing
	return nil
}

func (s *fakeStore) SetGenerationSequence(_ context.Context, id uuid.UUID, seq models.ClipSequence, reasoning models.AIReasoning) error {
	if s.gen.Status != models.GenerationStatusProcessing {
		return db.ErrConflict
	}
	s.gen.ClipSequence = seq
	s.gen.AIReasoning = reasoning
	return nil
}

func (s *fakeStore) MarkGenerationCompleted(_ context.Context, id uuid.UUID, outputPath, captionText string, meta models.CaptionMetadata) error {
	if s.gen.Status != models.GenerationStatusProcessing {
		return db.ErrConflict
	}
	s.gen.Status = models.GenerationStatusCompleted
	s.gen.OutputPath = &outputPath
	s.gen.Caption = &captionText
	s.gen.CaptionMetadata = meta
	return nil
}

func (s *fakeStore) MarkGenerationFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	if s.gen.Status != models.GenerationStatusProcessing {
		return db.ErrConflict
	}
	s.gen.Status = models.GenerationStatusFailed
	s.gen.ErrorMessage = &errorMessage
	return nil
}

func (s *fakeStore) GetCreator(_ context.Context, id uuid.UUID) (*models.Creator, error) {
	if s.creator == nil {
		return nil, db.ErrNotFound
	}
	return s.creator, nil
}

func (s *fakeStore) GetAudioTrack(_ context.Context, id uuid.UUID) (*models.AudioTrack, error) {
	if s.audio == nil {
		return nil, db.ErrNotFound
	}
	return s.audio, nil
}

func (s *fakeStore) GetActiveClips(_ context.Context, creatorID uuid.UUID) ([]models.Clip, error) {
	return s.clips, nil
}

func (s *fakeStore) GetClip(_ context.Context, id uuid.UUID) (*models.Clip, error) {
	for i := range s.clips {
		if s.clips[i].ID == id {
			return &s.clips[i], nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) UpdateClipAnalysis(_ context.Context, id uuid.UUID, analysis models.ClipAnalysis) error {
	for i := range s.clips {
		if s.clips[i].ID == id {
			s.clips[i].Analysis = analysis
			return nil
		}
	}
	return db.ErrNotFound
}

type fakeRenderer struct {
	output string
	err    error
	jobs   []render.Job
}

func (r *fakeRenderer) Render(_ context.Context, job render.Job) (string, error) {
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return "", r.err
	}
	return r.output, nil
}

type fakeComposer struct {
	candidates []caption.Candidate
	err        error
}

func (c *fakeComposer) Compose(context.Context, caption.Request) ([]caption.Candidate, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.candidates, nil
}

func newTestStore() *fakeStore {
	creatorID := uuid.New()
	audioID := uuid.New()

	return &fakeStore{
		gen: &models.Generation{
			ID:        uuid.New(),
			CreatorID: creatorID,
			AudioID:   audioID,
			Status:    models.GenerationStatusPending,
		},
		creator: &models.Creator{
			ID:   creatorID,
			Name: "test creator",
			BrandProfile: models.BrandProfile{
				LifestyleThemes: []string{"travel"},
			},
		},
		audio: &models.AudioTrack{
			ID:         audioID,
			FilePath:   "/media/audio/track.mp3",
			DurationMs: 6000,
			BeatTimeline: models.BeatTimeline{
				{OffsetMs: 0, DurationMs: 3000, Type: models.BeatIntro, Intensity: 2},
				{OffsetMs: 3000, DurationMs: 3000, Type: models.BeatDrop, Intensity: 5},
			},
		},
		clips: []models.Clip{
			{ID: uuid.New(), CreatorID: creatorID, FilePath: "/media/clips/a.mp4", DurationMs: 5000, Category: "travel", Intensity: 2, IsActive: true},
			{ID: uuid.New(), CreatorID: creatorID, FilePath: "/media/clips/b.mp4", DurationMs: 5000, Category: "cars", Intensity: 5, IsActive: true},
		},
	}
}

func newTestWorker(store *fakeStore, renderer *fakeRenderer, composer *fakeComposer) *Worker {
	return New(store, nil, selector.New(nil), renderer, composer, nil)
}

func TestRunGenerationCompletes(t *testing.T) {
	store := newTestStore()
	renderer := &fakeRenderer{output: "/media/exports/gen_abc.mp4"}
	composer := &fakeComposer{candidates: []caption.Candidate{
		{Text: "POV: the week finally paid off", HookType: "pov", Length: 30},
		{Text: "Backup option", HookType: "plain", Length: 13},
	}}

	w := newTestWorker(store, renderer, composer)
	err := w.RunGeneration(context.Background(), store.gen.ID)
	require.NoError(t, err)

	assert.Equal(t, models.GenerationStatusCompleted, store.gen.Status)
	require.NotNil(t, store.gen.OutputPath)
	assert.Equal(t, "/media/exports/gen_abc.mp4", *store.gen.OutputPath)
	require.NotNil(t, store.gen.Caption)
	assert.Equal(t, "POV: the week finally paid off", *store.gen.Caption, "candidate[0] auto-selected")
	assert.Equal(t, 2, store.gen.CaptionMetadata.CandidateCount)
	assert.Len(t, store.gen.ClipSequence, 2, "one item per beat segment")
	assert.Equal(t, "heuristic", store.gen.AIReasoning.RankerSource)

	// The render job mirrors the selected sequence and audio snapshot.
	require.Len(t, renderer.jobs, 1)
	job := renderer.jobs[0]
	assert.Equal(t, store.audio.FilePath, job.AudioPath)
	assert.Equal(t, store.audio.DurationMs, job.AudioDurationMs)
	assert.Len(t, job.Clips, 2)
}

func TestRunGenerationRenderTimeout(t *testing.T) {
	store := newTestStore()
	renderer := &fakeRenderer{err: &render.RenderError{
		Kind: render.KindTimeout,
		Err:  errors.New("render exceeded 600s"),
	}}
	composer := &fakeComposer{candidates: []caption.Candidate{{Text: "unused"}}}

	w := newTestWorker(store, renderer, composer)
	err := w.RunGeneration(context.Background(), store.gen.ID)
	require.Error(t, err)

	assert.Equal(t, models.GenerationStatusFailed, store.gen.Status)
	assert.Nil(t, store.gen.OutputPath, "failed jobs never get an output path")
	require.NotNil(t, store.gen.ErrorMessage)
	assert.True(t, strings.HasPrefix(*store.gen.ErrorMessage, "render:"))
	assert.Contains(t, *store.gen.ErrorMessage, "timeout")

	// Selection already succeeded: its result is kept for diagnostics.
	assert.NotEmpty(t, store.gen.ClipSequence)
	assert.Nil(t, store.gen.Caption, "caption stage skipped after render failure")
}

func TestRunGenerationMissingSourceDistinguished(t *testing.T) {
	store := newTestStore()
	renderer := &fakeRenderer{err: &render.RenderError{
		Kind: render.KindMissingSourceFile,
		Err:  errors.New("source file missing: /media/clips/a.mp4"),
	}}

	w := newTestWorker(store, renderer, &fakeComposer{})
	err := w.RunGeneration(context.Background(), store.gen.ID)
	require.Error(t, err)

	require.NotNil(t, store.gen.ErrorMessage)
	assert.Contains(t, *store.gen.ErrorMessage, "missing_source_file")
}

func TestRunGenerationSelectionFailure(t *testing.T) {
	store := newTestStore()
	store.clips = nil // empty catalog

	renderer := &fakeRenderer{output: "/unused.mp4"}
	w := newTestWorker(store, renderer, &fakeComposer{})

	err := w.RunGeneration(context.Background(), store.gen.ID)
	require.Error(t, err)

	assert.Equal(t, models.GenerationStatusFailed, store.gen.Status)
	require.NotNil(t, store.gen.ErrorMessage)
	assert.True(t, strings.HasPrefix(*store.gen.ErrorMessage, "selection:"))
	assert.Empty(t, renderer.jobs, "render stage skipped after selection failure")
}

func TestRunGenerationCaptionAllFiltered(t *testing.T) {
	store := newTestStore()
	renderer := &fakeRenderer{output: "/media/exports/out.mp4"}
	composer := &fakeComposer{err: caption.ErrAllFiltered}

	w := newTestWorker(store, renderer, composer)
	err := w.RunGeneration(context.Background(), store.gen.ID)
	require.Error(t, err)

	assert.Equal(t, models.GenerationStatusFailed, store.gen.Status)
	require.NotNil(t, store.gen.ErrorMessage)
	assert.True(t, strings.HasPrefix(*store.gen.ErrorMessage, "caption:"))
	assert.Nil(t, store.gen.OutputPath, "completed requires both output and caption")
}

func TestRunGenerationSkipsNonPending(t *testing.T) {
	store := newTestStore()
	store.gen.Status = models.GenerationStatusCompleted

	w := newTestWorker(store, &fakeRenderer{}, &fakeComposer{})
	err := w.RunGeneration(context.Background(), store.gen.ID)

	assert.NoError(t, err, "a claimed or terminal generation is not an error")
	assert.Equal(t, models.GenerationStatusCompleted, store.gen.Status)
}

func TestRunGenerationHonorsClipRestriction(t *testing.T) {
	store := newTestStore()
	// Restrict to the second clip only; both segments must use it.
	store.gen.RequestedClipIDs = models.UUIDList{store.clips[1].ID}

	renderer := &fakeRenderer{output: "/media/exports/out.mp4"}
	composer := &fakeComposer{candidates: []caption.Candidate{{Text: "fine"}}}

	w := newTestWorker(store, renderer, composer)
	require.NoError(t, w.RunGeneration(context.Background(), store.gen.ID))

	for _, item := range store.gen.ClipSequence {
		assert.Equal(t, store.clips[1].ID, item.ClipID)
	}
}

func TestRestrictCatalog(t *testing.T) {
	a := models.Clip{ID: uuid.New()}
	b := models.Clip{ID: uuid.New()}
	catalog := []models.Clip{a, b}

	assert.Len(t, restrictCatalog(catalog, nil), 2)

	restricted := restrictCatalog(catalog, models.UUIDList{b.ID})
	require.Len(t, restricted, 1)
	assert.Equal(t, b.ID, restricted[0].ID)

	assert.Empty(t, restrictCatalog(catalog, models.UUIDList{uuid.New()}))
}

func TestDescribeSequencePrefersAnalysis(t *testing.T) {
	analyzed := models.Clip{ID: uuid.New(), Category: "travel",
		Analysis: models.ClipAnalysis{VisualContent: "aerial shot of a coastline"}}
	tagged := models.Clip{ID: uuid.New(), Category: "cars", Mood: "energetic"}

	seq := models.ClipSequence{
		{ClipID: analyzed.ID},
		{ClipID: tagged.ID},
	}

	descs := describeSequence(seq, []models.Clip{analyzed, tagged})
	require.Len(t, descs, 2)
	assert.Equal(t, "aerial shot of a coastline", descs[0])
	assert.Equal(t, "cars (energetic)", descs[1])
}
