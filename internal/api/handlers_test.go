package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/db"
	"github.com/flexgen/api/internal/models"
)

// fakeStore is an in-memory Store that honors the same status guards as the
// SQL layer.
type fakeStore struct {
	creators    map[uuid.UUID]*models.Creator
	audio       map[uuid.UUID]*models.AudioTrack
	clips       map[uuid.UUID]*models.Clip
	generations map[uuid.UUID]*models.Generation

	lastCaptionMeta models.CaptionMetadata
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creators:    map[uuid.UUID]*models.Creator{},
		audio:       map[uuid.UUID]*models.AudioTrack{},
		clips:       map[uuid.UUID]*models.Clip{},
		generations: map[uuid.UUID]*models.Generation{},
	}
}

func (s *fakeStore) CreateGeneration(_ context.Context, gen *models.Generation) error {
	g := *gen
	s.generations[gen.ID] = &g
	return nil
}

func (s *fakeStore) GetGeneration(_ context.Context, id uuid.UUID) (*models.Generation, error) {
	gen, ok := s.generations[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	g := *gen
	return &g, nil
}

func (s *fakeStore) ListGenerations(_ context.Context, _ *uuid.UUID, _ models.GenerationStatus, _, _ int) ([]models.Generation, error) {
	var out []models.Generation
	for _, g := range s.generations {
		out = append(out, *g)
	}
	return out, nil
}

func (s *fakeStore) CountGenerations(_ context.Context, _ *uuid.UUID, _ models.GenerationStatus) (int, error) {
	return len(s.generations), nil
}

func (s *fakeStore) UpdateGenerationCaption(_ context.Context, id uuid.UUID, captionText string, meta models.CaptionMetadata) error {
	gen, ok := s.generations[id]
	if !ok || gen.Status != models.GenerationStatusCompleted {
		return db.ErrConflict
	}
	gen.Caption = &captionText
	gen.CaptionMetadata = meta
	s.lastCaptionMeta = meta
	return nil
}

func (s *fakeStore) DeleteGeneration(_ context.Context, id uuid.UUID) error {
	gen, ok := s.generations[id]
	if !ok {
		return db.ErrNotFound
	}
	if !gen.Status.IsTerminal() {
		return db.ErrConflict
	}
	delete(s.generations, id)
	return nil
}

func (s *fakeStore) CreateCreator(_ context.Context, creator *models.Creator) error {
	c := *creator
	s.creators[creator.ID] = &c
	return nil
}

func (s *fakeStore) GetCreator(_ context.Context, id uuid.UUID) (*models.Creator, error) {
	creator, ok := s.creators[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *creator
	return &c, nil
}

func (s *fakeStore) ListCreators(_ context.Context, _, _ int) ([]models.Creator, error) {
	var out []models.Creator
	for _, c := range s.creators {
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeStore) UpdateCreator(_ context.Context, creator *models.Creator) error {
	c := *creator
	s.creators[creator.ID] = &c
	return nil
}

func (s *fakeStore) CreateAudioTrack(_ context.Context, track *models.AudioTrack) error {
	a := *track
	s.audio[track.ID] = &a
	return nil
}

func (s *fakeStore) GetAudioTrack(_ context.Context, id uuid.UUID) (*models.AudioTrack, error) {
	track, ok := s.audio[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	a := *track
	return &a, nil
}

func (s *fakeStore) ListAudioTracks(_ context.Context, _, _ int) ([]models.AudioTrack, error) {
	var out []models.AudioTrack
	for _, a := range s.audio {
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeStore) UpdateBeatTimeline(_ context.Context, id uuid.UUID, timeline models.BeatTimeline) error {
	track, ok := s.audio[id]
	if !ok {
		return db.ErrNotFound
	}
	track.BeatTimeline = timeline
	return nil
}

func (s *fakeStore) CreateClip(_ context.Context, clip *models.Clip) error {
	c := *clip
	s.clips[clip.ID] = &c
	return nil
}

func (s *fakeStore) GetClip(_ context.Context, id uuid.UUID) (*models.Clip, error) {
	clip, ok := s.clips[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *clip
	return &c, nil
}

func (s *fakeStore) GetActiveClips(_ context.Context, creatorID uuid.UUID) ([]models.Clip, error) {
	var out []models.Clip
	for _, c := range s.clips {
		if c.CreatorID == creatorID && c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeStore) ListClips(_ context.Context, creatorID uuid.UUID, _, _ int) ([]models.Clip, error) {
	var out []models.Clip
	for _, c := range s.clips {
		if c.CreatorID == creatorID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateClip(_ context.Context, clip *models.Clip) error {
	c := *clip
	s.clips[clip.ID] = &c
	return nil
}

// fakeQueue records enqueued jobs.
type fakeQueue struct {
	generate []uuid.UUID
	analyze  []uuid.UUID
}

func (q *fakeQueue) EnqueueGenerate(_ context.Context, id uuid.UUID) error {
	q.generate = append(q.generate, id)
	return nil
}

func (q *fakeQueue) EnqueueAnalyzeClip(_ context.Context, id uuid.UUID) error {
	q.analyze = append(q.analyze, id)
	return nil
}

// stubSource proposes fixed caption candidates.
type stubSource struct {
	candidates []caption.Candidate
	err        error
}

func (s stubSource) GenerateCaptions(context.Context, caption.Request) ([]caption.Candidate, error) {
	return s.candidates, s.err
}

type testEnv struct {
	store  *fakeStore
	queue  *fakeQueue
	router http.Handler

	creator *models.Creator
	audio   *models.AudioTrack
	clips   []*models.Clip
	gen     *models.Generation
}

// newTestEnv seeds a creator with two active clips, an audio track with a
// beat timeline, and a completed generation using both clips.
func newTestEnv(t *testing.T, source caption.Source) *testEnv {
	t.Helper()

	store := newFakeStore()
	q := &fakeQueue{}

	creator := &models.Creator{
		ID:   uuid.New(),
		Name: "Flex Creator",
		CaptionRules: models.CaptionRules{
			MinLength: 20,
			MaxLength: 150,
		},
	}
	store.creators[creator.ID] = creator

	audio := &models.AudioTrack{
		ID:         uuid.New(),
		Name:       "Drive Phonk",
		FilePath:   "/media/audio/drive.mp3",
		DurationMs: 12000,
		BeatTimeline: models.BeatTimeline{
			{Type: models.BeatIntro, OffsetMs: 0, DurationMs: 4000, Intensity: 2},
			{Type: models.BeatDrop, OffsetMs: 4000, DurationMs: 8000, Intensity: 5},
		},
		IsActive: true,
	}
	store.audio[audio.ID] = audio

	var clips []*models.Clip
	for i, cat := range []string{"cars", "travel"} {
		clip := &models.Clip{
			ID:         uuid.New(),
			CreatorID:  creator.ID,
			FilePath:   fmt.Sprintf("/media/clips/%s.mp4", cat),
			DurationMs: 6000,
			Category:   cat,
			Intensity:  2 + 3*i,
			IsActive:   true,
		}
		store.clips[clip.ID] = clip
		clips = append(clips, clip)
	}

	output := "/media/exports/done.mp4"
	captionText := "Caught the sunset on the way home tonight"
	gen := &models.Generation{
		ID:        uuid.New(),
		CreatorID: creator.ID,
		AudioID:   audio.ID,
		ClipSequence: models.ClipSequence{
			{ClipID: clips[0].ID, SegmentIndex: 0, StartMs: 0, EndMs: 4000},
			{ClipID: clips[1].ID, SegmentIndex: 1, StartMs: 0, EndMs: 6000},
		},
		Caption:    &captionText,
		OutputPath: &output,
		Status:     models.GenerationStatusCompleted,
		CreatedAt:  time.Now(),
	}
	store.generations[gen.ID] = gen

	handler := NewHandler(store, q, caption.NewComposer(source))
	router := NewRouter(handler, RouterConfig{})

	return &testEnv{
		store:   store,
		queue:   q,
		router:  router,
		creator: creator,
		audio:   audio,
		clips:   clips,
		gen:     gen,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func validCandidates() []caption.Candidate {
	return []caption.Candidate{
		{Text: "POV: the city finally goes quiet after midnight", HookType: "pov"},
		{Text: "Some drives are just for thinking things through", HookType: "relatable"},
	}
}

func TestRegenerateCaptionKeepClipsReturnsOptions(t *testing.T) {
	env := newTestEnv(t, stubSource{candidates: validCandidates()})
	wantSeq := append(models.ClipSequence(nil), env.gen.ClipSequence...)
	wantOutput := *env.gen.OutputPath
	wantCaption := *env.gen.Caption

	rec := env.do(t, http.MethodPost,
		"/v1/generations/"+env.gen.ID.String()+"/caption/regenerate",
		models.RegenerateCaptionRequest{KeepClips: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.RegenerateCaptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CaptionOptions)
	assert.Nil(t, resp.NewGenerationID)
	assert.Equal(t, "POV: the city finally goes quiet after midnight", resp.CaptionOptions[0].Text)

	// The generation itself is untouched: same sequence, output, and caption.
	stored := env.store.generations[env.gen.ID]
	assert.Equal(t, wantSeq, stored.ClipSequence)
	require.NotNil(t, stored.OutputPath)
	assert.Equal(t, wantOutput, *stored.OutputPath)
	require.NotNil(t, stored.Caption)
	assert.Equal(t, wantCaption, *stored.Caption)
	assert.Empty(t, env.queue.generate, "no job enqueued when clips are kept")
}

func TestRegenerateCaptionKeepClipsAllFiltered(t *testing.T) {
	env := newTestEnv(t, stubSource{candidates: []caption.Candidate{{Text: "nah"}}})

	rec := env.do(t, http.MethodPost,
		"/v1/generations/"+env.gen.ID.String()+"/caption/regenerate",
		models.RegenerateCaptionRequest{KeepClips: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RegenerateCaptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.CaptionOptions)
}

func TestRegenerateCaptionKeepClipsRequiresCompleted(t *testing.T) {
	env := newTestEnv(t, stubSource{candidates: validCandidates()})
	env.store.generations[env.gen.ID].Status = models.GenerationStatusProcessing

	rec := env.do(t, http.MethodPost,
		"/v1/generations/"+env.gen.ID.String()+"/caption/regenerate",
		models.RegenerateCaptionRequest{KeepClips: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegenerateCaptionFreshClipsEnqueuesNewJob(t *testing.T) {
	env := newTestEnv(t, stubSource{candidates: validCandidates()})
	env.store.generations[env.gen.ID].RequestedClipIDs = models.UUIDList{env.clips[0].ID}

	rec := env.do(t, http.MethodPost,
		"/v1/generations/"+env.gen.ID.String()+"/caption/regenerate",
		models.RegenerateCaptionRequest{KeepClips: false})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp models.RegenerateCaptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.NewGenerationID)
	assert.NotEqual(t, env.gen.ID, *resp.NewGenerationID)

	newGen := env.store.generations[*resp.NewGenerationID]
	require.NotNil(t, newGen, "new generation persisted")
	assert.Equal(t, models.GenerationStatusPending, newGen.Status)
	assert.Equal(t, env.gen.CreatorID, newGen.CreatorID)
	assert.Equal(t, env.gen.AudioID, newGen.AudioID)
	assert.Equal(t, models.UUIDList{env.clips[0].ID}, newGen.RequestedClipIDs)
	assert.Equal(t, []uuid.UUID{*resp.NewGenerationID}, env.queue.generate)
}

func TestRegenerateCaptionFreshClipsValidatesSubmission(t *testing.T) {
	env := newTestEnv(t, stubSource{candidates: validCandidates()})
	for _, clip := range env.clips {
		env.store.clips[clip.ID].IsActive = false
	}

	rec := env.do(t, http.MethodPost,
		"/v1/generations/"+env.gen.ID.String()+"/caption/regenerate",
		models.RegenerateCaptionRequest{KeepClips: false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Rejected synchronously: no record created, nothing enqueued.
	assert.Len(t, env.store.generations, 1)
	assert.Empty(t, env.queue.generate)
}

func TestReanalyzeClipQueuesAnalysis(t *testing.T) {
	env := newTestEnv(t, stubSource{})

	rec := env.do(t, http.MethodPost, "/v1/clips/"+env.clips[0].ID.String()+"/reanalyze", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []uuid.UUID{env.clips[0].ID}, env.queue.analyze)
}

func TestReanalyzeClipUnknownClip(t *testing.T) {
	env := newTestEnv(t, stubSource{})

	rec := env.do(t, http.MethodPost, "/v1/clips/"+uuid.NewString()+"/reanalyze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.queue.analyze)
}

func TestUpdateCaptionCountsCharacters(t *testing.T) {
	env := newTestEnv(t, stubSource{})

	// 30 emoji reads as 120 bytes; the creator's 20..150 bounds count
	// characters, so this must pass and the stored length must be 30.
	text := strings.Repeat("🚗", 30)
	rec := env.do(t, http.MethodPut,
		"/v1/generations/"+env.gen.ID.String()+"/caption",
		models.UpdateCaptionRequest{Caption: text})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := env.store.generations[env.gen.ID]
	require.NotNil(t, stored.Caption)
	assert.Equal(t, text, *stored.Caption)
	assert.Equal(t, 30, env.store.lastCaptionMeta.EstimatedLength)
	assert.Equal(t, "manual", env.store.lastCaptionMeta.HookType)
}
