package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/db"
	"github.com/flexgen/api/internal/models"
	"github.com/flexgen/api/internal/queue"
)

// Store is the persistence surface the handlers depend on. *db.DB satisfies
// it in production; tests substitute an in-memory implementation.
type Store interface {
	CreateGeneration(ctx context.Context, gen *models.Generation) error
	GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	ListGenerations(ctx context.Context, creatorID *uuid.UUID, status models.GenerationStatus, limit, offset int) ([]models.Generation, error)
	CountGenerations(ctx context.Context, creatorID *uuid.UUID, status models.GenerationStatus) (int, error)
	UpdateGenerationCaption(ctx context.Context, id uuid.UUID, caption string, meta models.CaptionMetadata) error
	DeleteGeneration(ctx context.Context, id uuid.UUID) error

	CreateCreator(ctx context.Context, creator *models.Creator) error
	GetCreator(ctx context.Context, id uuid.UUID) (*models.Creator, error)
	ListCreators(ctx context.Context, limit, offset int) ([]models.Creator, error)
	UpdateCreator(ctx context.Context, creator *models.Creator) error

	CreateAudioTrack(ctx context.Context, track *models.AudioTrack) error
	GetAudioTrack(ctx context.Context, id uuid.UUID) (*models.AudioTrack, error)
	ListAudioTracks(ctx context.Context, limit, offset int) ([]models.AudioTrack, error)
	UpdateBeatTimeline(ctx context.Context, id uuid.UUID, timeline models.BeatTimeline) error

	CreateClip(ctx context.Context, clip *models.Clip) error
	GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error)
	GetActiveClips(ctx context.Context, creatorID uuid.UUID) ([]models.Clip, error)
	ListClips(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.Clip, error)
	UpdateClip(ctx context.Context, clip *models.Clip) error
}

// JobQueue enqueues background work for the worker.
type JobQueue interface {
	EnqueueGenerate(ctx context.Context, generationID uuid.UUID) error
	EnqueueAnalyzeClip(ctx context.Context, clipID uuid.UUID) error
}

var (
	_ Store    = (*db.DB)(nil)
	_ JobQueue = (*queue.Queue)(nil)
)

type Handler struct {
	db       Store
	queue    JobQueue
	composer *caption.Composer
}

func NewHandler(store Store, q JobQueue, composer *caption.Composer) *Handler {
	return &Handler{
		db:       store,
		queue:    q,
		composer: composer,
	}
}

// CreateGeneration handles POST /v1/generations.
// All validation is synchronous: a request that fails here never produces a
// generation record or a queued job.
func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.CreatorID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "creator_id is required")
		return
	}
	if req.AudioID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "audio_id is required")
		return
	}

	if status, msg := h.checkSubmission(r.Context(), req.CreatorID, req.AudioID, req.ClipIDs); status != 0 {
		respondError(w, status, msg)
		return
	}

	gen := &models.Generation{
		ID:               uuid.New(),
		CreatorID:        req.CreatorID,
		AudioID:          req.AudioID,
		RequestedClipIDs: models.UUIDList(req.ClipIDs),
		Status:           models.GenerationStatusPending,
	}

	if err := h.db.CreateGeneration(r.Context(), gen); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create generation")
		return
	}

	if err := h.queue.EnqueueGenerate(r.Context(), gen.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue generation")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateGenerationResponse{
		GenerationID: gen.ID,
		Status:       gen.Status,
	})
}

// checkSubmission runs the synchronous pre-flight checks shared by new
// submissions and full regenerations: the creator and audio must exist, the
// audio must carry a beat timeline, and at least one active clip must be
// able to serve the request. Returns a non-zero HTTP status and message when
// a check fails.
func (h *Handler) checkSubmission(ctx context.Context, creatorID, audioID uuid.UUID, clipIDs []uuid.UUID) (int, string) {
	if _, err := h.db.GetCreator(ctx, creatorID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return http.StatusBadRequest, "Creator not found"
		}
		return http.StatusInternalServerError, "Failed to load creator"
	}

	audio, err := h.db.GetAudioTrack(ctx, audioID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return http.StatusBadRequest, "Audio track not found"
		}
		return http.StatusInternalServerError, "Failed to load audio track"
	}
	if len(audio.BeatTimeline) == 0 {
		return http.StatusBadRequest, "Audio track has no beat timeline"
	}

	clips, err := h.db.GetActiveClips(ctx, creatorID)
	if err != nil {
		return http.StatusInternalServerError, "Failed to load clips"
	}
	if len(clipIDs) > 0 {
		active := make(map[uuid.UUID]bool, len(clips))
		for _, c := range clips {
			active[c.ID] = true
		}
		matched := 0
		for _, id := range clipIDs {
			if active[id] {
				matched++
			}
		}
		if matched == 0 {
			return http.StatusBadRequest, "clip_ids matched no active clips for this creator"
		}
	} else if len(clips) == 0 {
		return http.StatusBadRequest, "Creator has no active clips"
	}

	return 0, ""
}

// GetGeneration handles GET /v1/generations/{id}
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid generation ID")
		return
	}

	gen, err := h.db.GetGeneration(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Generation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load generation")
		return
	}

	respondJSON(w, http.StatusOK, gen)
}

// ListGenerations handles GET /v1/generations
// Query params:
//   - creator_id: filter by creator
//   - status: filter by status (pending, processing, completed, failed)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	var creatorID *uuid.UUID
	if raw := r.URL.Query().Get("creator_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid creator_id filter")
			return
		}
		creatorID = &id
	}

	status := models.GenerationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: pending, processing, completed, failed")
		return
	}

	limit, offset := parsePagination(r)

	total, err := h.db.CountGenerations(r.Context(), creatorID, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count generations")
		return
	}

	gens, err := h.db.ListGenerations(r.Context(), creatorID, status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list generations")
		return
	}
	if gens == nil {
		gens = []models.Generation{}
	}

	respondJSON(w, http.StatusOK, models.ListGenerationsResponse{
		Generations: gens,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// RegenerateCaption handles POST /v1/generations/{id}/caption/regenerate.
// keep_clips=true runs the caption composer against the existing sequence and
// returns the ranked options without touching the generation. keep_clips=false
// submits a brand-new generation and returns its id.
func (h *Handler) RegenerateCaption(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid generation ID")
		return
	}

	var req models.RegenerateCaptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	gen, err := h.db.GetGeneration(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Generation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load generation")
		return
	}

	if !req.KeepClips {
		// A full regeneration is a fresh submission, so the same pre-flight
		// checks apply: no job record if the creator has since lost its
		// clips or the audio its timeline.
		if status, msg := h.checkSubmission(r.Context(), gen.CreatorID, gen.AudioID, gen.RequestedClipIDs); status != 0 {
			respondError(w, status, msg)
			return
		}

		newGen := &models.Generation{
			ID:               uuid.New(),
			CreatorID:        gen.CreatorID,
			AudioID:          gen.AudioID,
			RequestedClipIDs: gen.RequestedClipIDs,
			Status:           models.GenerationStatusPending,
		}
		if err := h.db.CreateGeneration(r.Context(), newGen); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to create generation")
			return
		}
		if err := h.queue.EnqueueGenerate(r.Context(), newGen.ID); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to enqueue generation")
			return
		}
		respondJSON(w, http.StatusAccepted, models.RegenerateCaptionResponse{
			CaptionOptions:  []models.CaptionOption{},
			NewGenerationID: &newGen.ID,
		})
		return
	}

	if gen.Status != models.GenerationStatusCompleted {
		respondError(w, http.StatusConflict, "Captions can only be regenerated for completed generations")
		return
	}

	creator, err := h.db.GetCreator(r.Context(), gen.CreatorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load creator")
		return
	}
	audio, err := h.db.GetAudioTrack(r.Context(), gen.AudioID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load audio track")
		return
	}

	candidates, err := h.composer.Compose(r.Context(), caption.Request{
		Profile:          creator.BrandProfile,
		Rules:            creator.CaptionRules,
		AudioContext:     audio.Context,
		ClipDescriptions: h.describeSequence(r, gen.ClipSequence),
	})
	if err != nil && !errors.Is(err, caption.ErrAllFiltered) {
		respondError(w, http.StatusBadGateway, "Caption generation failed")
		return
	}

	// All candidates filtered: an empty list, not an error or a status change.
	options := make([]models.CaptionOption, 0, len(candidates))
	for _, c := range candidates {
		options = append(options, models.CaptionOption{
			Text:     c.Text,
			HookType: c.HookType,
			Length:   c.Length,
		})
	}

	respondJSON(w, http.StatusOK, models.RegenerateCaptionResponse{CaptionOptions: options})
}

func (h *Handler) describeSequence(r *http.Request, seq models.ClipSequence) []string {
	descs := make([]string, 0, len(seq))
	for _, item := range seq {
		clip, err := h.db.GetClip(r.Context(), item.ClipID)
		if err != nil {
			continue
		}
		if clip.Analysis.VisualContent != "" {
			descs = append(descs, clip.Analysis.VisualContent)
		} else {
			descs = append(descs, clip.Category)
		}
	}
	return descs
}

// UpdateCaption handles PUT /v1/generations/{id}/caption — the only mutation
// allowed on a completed generation.
func (h *Handler) UpdateCaption(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid generation ID")
		return
	}

	var req models.UpdateCaptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	gen, err := h.db.GetGeneration(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Generation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load generation")
		return
	}

	creator, err := h.db.GetCreator(r.Context(), gen.CreatorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load creator")
		return
	}

	if err := caption.Validate(req.Caption, creator.CaptionRules); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta := gen.CaptionMetadata
	meta.HookType = "manual"
	meta.EstimatedLength = utf8.RuneCountInString(req.Caption)

	if err := h.db.UpdateGenerationCaption(r.Context(), id, req.Caption, meta); err != nil {
		if errors.Is(err, db.ErrConflict) {
			respondError(w, http.StatusConflict, "Caption can only be updated on a completed generation")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update caption")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"caption": req.Caption})
}

// DeleteGeneration handles DELETE /v1/generations/{id}. Only terminal
// generations can be removed; the output file goes with the record.
func (h *Handler) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid generation ID")
		return
	}

	gen, err := h.db.GetGeneration(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Generation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load generation")
		return
	}

	if err := h.db.DeleteGeneration(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrConflict) {
			respondError(w, http.StatusConflict, "Cannot delete a generation that is still in flight")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete generation")
		return
	}

	if gen.OutputPath != nil {
		if err := os.Remove(*gen.OutputPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[API] Failed to remove output file %s: %v", *gen.OutputPath, err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Creators
// ---------------------------------------------------------------------------

// CreateCreator handles POST /v1/creators
func (h *Handler) CreateCreator(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCreatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	creator := &models.Creator{
		ID:           uuid.New(),
		Name:         req.Name,
		Handle:       req.Handle,
		BrandProfile: req.BrandProfile,
		CaptionRules: req.CaptionRules,
	}
	if err := h.db.CreateCreator(r.Context(), creator); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create creator")
		return
	}

	respondJSON(w, http.StatusCreated, creator)
}

// GetCreator handles GET /v1/creators/{id}
func (h *Handler) GetCreator(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid creator ID")
		return
	}

	creator, err := h.db.GetCreator(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Creator not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load creator")
		return
	}

	respondJSON(w, http.StatusOK, creator)
}

// ListCreators handles GET /v1/creators
func (h *Handler) ListCreators(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	creators, err := h.db.ListCreators(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list creators")
		return
	}
	if creators == nil {
		creators = []models.Creator{}
	}

	respondJSON(w, http.StatusOK, creators)
}

// UpdateCreator handles PUT /v1/creators/{id}
func (h *Handler) UpdateCreator(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid creator ID")
		return
	}

	creator, err := h.db.GetCreator(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Creator not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load creator")
		return
	}

	var req models.CreateCreatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	creator.Name = req.Name
	creator.Handle = req.Handle
	creator.BrandProfile = req.BrandProfile
	creator.CaptionRules = req.CaptionRules

	if err := h.db.UpdateCreator(r.Context(), creator); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update creator")
		return
	}

	respondJSON(w, http.StatusOK, creator)
}

// ---------------------------------------------------------------------------
// Audio tracks
// ---------------------------------------------------------------------------

// CreateAudio handles POST /v1/audio
func (h *Handler) CreateAudio(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "Name and file_path are required")
		return
	}
	if req.DurationMs <= 0 {
		respondError(w, http.StatusBadRequest, "duration_ms must be positive")
		return
	}
	if err := validateTimeline(req.BeatTimeline); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	track := &models.AudioTrack{
		ID:           uuid.New(),
		Name:         req.Name,
		FilePath:     req.FilePath,
		DurationMs:   req.DurationMs,
		Context:      req.Context,
		BeatTimeline: req.BeatTimeline,
		IsActive:     true,
	}
	if err := h.db.CreateAudioTrack(r.Context(), track); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create audio track")
		return
	}

	respondJSON(w, http.StatusCreated, track)
}

// GetAudio handles GET /v1/audio/{id}
func (h *Handler) GetAudio(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid audio ID")
		return
	}

	track, err := h.db.GetAudioTrack(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Audio track not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load audio track")
		return
	}

	respondJSON(w, http.StatusOK, track)
}

// ListAudio handles GET /v1/audio
func (h *Handler) ListAudio(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	tracks, err := h.db.ListAudioTracks(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list audio tracks")
		return
	}
	if tracks == nil {
		tracks = []models.AudioTrack{}
	}

	respondJSON(w, http.StatusOK, tracks)
}

// UpdateBeats handles PUT /v1/audio/{id}/beats. In-flight generations are
// unaffected: the pipeline works off a snapshot taken when the job starts.
func (h *Handler) UpdateBeats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid audio ID")
		return
	}

	var timeline models.BeatTimeline
	if err := json.NewDecoder(r.Body).Decode(&timeline); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateTimeline(timeline); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.db.UpdateBeatTimeline(r.Context(), id, timeline); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Audio track not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update beat timeline")
		return
	}

	respondJSON(w, http.StatusOK, timeline)
}

// ---------------------------------------------------------------------------
// Clips
// ---------------------------------------------------------------------------

// CreateClip handles POST /v1/clips. Setting analyze=true enqueues background
// video-understanding for the clip.
func (h *Handler) CreateClip(w http.ResponseWriter, r *http.Request) {
	var req models.CreateClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CreatorID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "creator_id is required")
		return
	}
	if req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "file_path is required")
		return
	}
	if req.DurationMs <= 0 {
		respondError(w, http.StatusBadRequest, "duration_ms must be positive")
		return
	}
	if req.Intensity < 1 || req.Intensity > 5 {
		respondError(w, http.StatusBadRequest, "intensity must be between 1 and 5")
		return
	}

	if _, err := h.db.GetCreator(r.Context(), req.CreatorID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "Creator not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load creator")
		return
	}

	clip := &models.Clip{
		ID:               uuid.New(),
		CreatorID:        req.CreatorID,
		FilePath:         req.FilePath,
		DurationMs:       req.DurationMs,
		Category:         req.Category,
		Intensity:        req.Intensity,
		Mood:             req.Mood,
		BestFor:          req.BestFor,
		AvoidPairingWith: req.AvoidPairingWith,
		Orientation:      req.Orientation,
		IsActive:         true,
	}
	if err := h.db.CreateClip(r.Context(), clip); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create clip")
		return
	}

	if req.Analyze {
		if err := h.queue.EnqueueAnalyzeClip(r.Context(), clip.ID); err != nil {
			// Analysis is enrichment — the clip is created either way.
			log.Printf("[API] Failed to enqueue analysis for clip %s: %v", clip.ID, err)
		}
	}

	respondJSON(w, http.StatusCreated, clip)
}

// GetClip handles GET /v1/clips/{id}
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	clip, err := h.db.GetClip(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Clip not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load clip")
		return
	}

	respondJSON(w, http.StatusOK, clip)
}

// ListClips handles GET /v1/clips?creator_id=
func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	creatorID, err := uuid.Parse(r.URL.Query().Get("creator_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "creator_id query parameter is required")
		return
	}

	limit, offset := parsePagination(r)

	clips, err := h.db.ListClips(r.Context(), creatorID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list clips")
		return
	}
	if clips == nil {
		clips = []models.Clip{}
	}

	respondJSON(w, http.StatusOK, clips)
}

// UpdateClip handles PATCH /v1/clips/{id} — partial context/active update.
func (h *Handler) UpdateClip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	clip, err := h.db.GetClip(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Clip not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load clip")
		return
	}

	var req models.UpdateClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Category != nil {
		clip.Category = *req.Category
	}
	if req.Intensity != nil {
		if *req.Intensity < 1 || *req.Intensity > 5 {
			respondError(w, http.StatusBadRequest, "intensity must be between 1 and 5")
			return
		}
		clip.Intensity = *req.Intensity
	}
	if req.Mood != nil {
		clip.Mood = *req.Mood
	}
	if req.BestFor != nil {
		clip.BestFor = *req.BestFor
	}
	if req.AvoidPairingWith != nil {
		clip.AvoidPairingWith = *req.AvoidPairingWith
	}
	if req.IsActive != nil {
		clip.IsActive = *req.IsActive
	}

	if err := h.db.UpdateClip(r.Context(), clip); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update clip")
		return
	}

	respondJSON(w, http.StatusOK, clip)
}

// ReanalyzeClip handles POST /v1/clips/{id}/reanalyze. Queues a fresh
// video-understanding pass; the result overwrites the clip's analysis.
func (h *Handler) ReanalyzeClip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	clip, err := h.db.GetClip(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Clip not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load clip")
		return
	}

	if err := h.queue.EnqueueAnalyzeClip(r.Context(), clip.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue analysis")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"clip_id": clip.ID.String(),
		"status":  "analysis_queued",
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func validateTimeline(timeline models.BeatTimeline) error {
	if len(timeline) == 0 {
		return errors.New("beat_timeline must contain at least one segment")
	}
	for i, seg := range timeline {
		if seg.DurationMs <= 0 {
			return fmt.Errorf("beat segment %d has non-positive duration", i)
		}
		if seg.OffsetMs < 0 {
			return fmt.Errorf("beat segment %d has negative offset", i)
		}
	}
	return nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset = 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
