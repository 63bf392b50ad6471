package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Enums

type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Valid reports whether the status is one of the four pipeline states.
func (s GenerationStatus) Valid() bool {
	switch s {
	case GenerationStatusPending, GenerationStatusProcessing,
		GenerationStatusCompleted, GenerationStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is one a generation never leaves.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// CanTransitionTo enforces the pending → processing → completed|failed ladder.
// No transition skips processing and no terminal state is ever left.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	switch s {
	case GenerationStatusPending:
		return next == GenerationStatusProcessing
	case GenerationStatusProcessing:
		return next == GenerationStatusCompleted || next == GenerationStatusFailed
	default:
		return false
	}
}

type BeatType string

const (
	BeatIntro   BeatType = "intro"
	BeatBuild   BeatType = "build"
	BeatPreDrop BeatType = "pre_drop"
	BeatDrop    BeatType = "drop"
	BeatSustain BeatType = "sustain"
	BeatOutro   BeatType = "outro"
)

type HashtagStrategy string

const (
	HashtagNone     HashtagStrategy = "none"
	HashtagMinimal  HashtagStrategy = "minimal"
	HashtagModerate HashtagStrategy = "moderate"
)

type EmojiUsage string

const (
	EmojiNone     EmojiUsage = "none"
	EmojiMinimal  EmojiUsage = "minimal"
	EmojiModerate EmojiUsage = "moderate"
)

type Orientation string

const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
	OrientationSquare     Orientation = "square"
)

// scanJSONB decodes a JSONB column into dst, rejecting unknown fields so that
// malformed or drifted rows fail loudly at the storage boundary instead of
// silently dropping data.
func scanJSONB(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte for JSONB column, got %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// BrandProfile captures a creator's voice and content constraints.
// Stored as JSONB on the creators table.
type BrandProfile struct {
	Niche            string   `json:"niche,omitempty"`
	Tone             []string `json:"tone,omitempty"`
	Avoid            []string `json:"avoid,omitempty"`
	SignaturePhrases []string `json:"signature_phrases,omitempty"`
	FlexStyle        string   `json:"flex_style,omitempty"` // "subtle", "overt", "educational"
	LifestyleThemes  []string `json:"lifestyle_themes,omitempty"`
}

func (p BrandProfile) Value() (driver.Value, error)  { return json.Marshal(p) }
func (p *BrandProfile) Scan(value interface{}) error { return scanJSONB(value, p) }

// CaptionRules constrains generated captions. Stored as JSONB on creators.
type CaptionRules struct {
	MaxLength       int             `json:"max_length,omitempty"`
	MinLength       int             `json:"min_length,omitempty"`
	HashtagStrategy HashtagStrategy `json:"hashtag_strategy,omitempty"`
	HashtagCount    int             `json:"hashtag_count,omitempty"`
	EmojiUsage      EmojiUsage      `json:"emoji_usage,omitempty"`
	CTAStyle        string          `json:"cta_style,omitempty"` // "soft", "hard", "none"
	Voice           string          `json:"voice,omitempty"`     // "first_person", "third_person"
	BannedWords     []string        `json:"banned_words,omitempty"`
	HookPatterns    []string        `json:"hook_patterns,omitempty"`
}

func (r CaptionRules) Value() (driver.Value, error)  { return json.Marshal(r) }
func (r *CaptionRules) Scan(value interface{}) error { return scanJSONB(value, r) }

// WithDefaults fills unset fields with the platform sweet spot.
func (r CaptionRules) WithDefaults() CaptionRules {
	if r.MinLength <= 0 {
		r.MinLength = 50
	}
	if r.MaxLength <= 0 {
		r.MaxLength = 150
	}
	if r.HashtagStrategy == "" {
		r.HashtagStrategy = HashtagMinimal
	}
	if r.EmojiUsage == "" {
		r.EmojiUsage = EmojiMinimal
	}
	return r
}

// AudioContext describes the mood/usage of a track. Stored as JSONB on audio_tracks.
type AudioContext struct {
	Mood       string `json:"mood,omitempty"`
	TrendType  string `json:"trend_type,omitempty"`
	TypicalUse string `json:"typical_use,omitempty"`
	EnergyArc  string `json:"energy_arc,omitempty"` // "build_drop", "steady", "escalating"
}

func (c AudioContext) Value() (driver.Value, error)  { return json.Marshal(c) }
func (c *AudioContext) Scan(value interface{}) error { return scanJSONB(value, c) }

// BeatSegment is one labeled interval of an audio track. Segments are ordered
// by offset and non-overlapping by convention; ordering is restored on scan.
type BeatSegment struct {
	OffsetMs            int      `json:"offset_ms"`
	DurationMs          int      `json:"duration_ms"`
	Type                BeatType `json:"type"`
	Intensity           int      `json:"intensity"` // 1-5
	RecommendedClipType string   `json:"recommended_clip_type,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

// BeatTimeline is the ordered beat structure of a track, JSONB on audio_tracks.
type BeatTimeline []BeatSegment

func (t BeatTimeline) Value() (driver.Value, error) { return json.Marshal(t) }

func (t *BeatTimeline) Scan(value interface{}) error {
	if err := scanJSONB(value, t); err != nil {
		return err
	}
	sort.SliceStable(*t, func(i, j int) bool { return (*t)[i].OffsetMs < (*t)[j].OffsetMs })
	return nil
}

// Clone returns an independent copy so an in-flight generation is never
// affected by concurrent edits to the underlying track.
func (t BeatTimeline) Clone() BeatTimeline {
	out := make(BeatTimeline, len(t))
	copy(out, t)
	return out
}

// StringList is a JSONB string array column (tags, themes, banned words).
type StringList []string

func (l StringList) Value() (driver.Value, error)  { return json.Marshal(l) }
func (l *StringList) Scan(value interface{}) error { return scanJSONB(value, l) }

// ClipAnalysis is the structured video-understanding result for a clip.
// Populated asynchronously; an empty analysis is a valid state (analysis
// failures are non-fatal).
type ClipAnalysis struct {
	VisualContent   string   `json:"visual_content,omitempty"`
	DetectedObjects []string `json:"detected_objects,omitempty"`
	DetectedActions []string `json:"detected_actions,omitempty"`
	SceneType       string   `json:"scene_type,omitempty"` // "indoor", "outdoor", "aerial", "pov", "wide"
	DominantColors  []string `json:"dominant_colors,omitempty"`
	HasFaces        bool     `json:"has_faces,omitempty"`
	AudioContent    string   `json:"audio_content,omitempty"`
}

func (a ClipAnalysis) Value() (driver.Value, error)  { return json.Marshal(a) }
func (a *ClipAnalysis) Scan(value interface{}) error { return scanJSONB(value, a) }

// IsEmpty reports whether analysis ever completed for the clip.
func (a ClipAnalysis) IsEmpty() bool {
	return a.VisualContent == "" && len(a.DetectedObjects) == 0
}

// UUIDList is a JSONB array of ids.
type UUIDList []uuid.UUID

func (l UUIDList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]uuid.UUID{})
	}
	return json.Marshal(l)
}
func (l *UUIDList) Scan(value interface{}) error { return scanJSONB(value, l) }

// ClipSequenceItem maps one beat segment to a chosen source clip.
// StartMs/EndMs are the in-clip window; EndMs-StartMs never exceeds the source
// duration. Reasoning is set when a hard filter had to be relaxed (or when the
// ranking service supplied a rationale).
type ClipSequenceItem struct {
	ClipID       uuid.UUID `json:"clip_id"`
	SegmentIndex int       `json:"segment_index"`
	BeatSegment  BeatType  `json:"beat_segment"`
	StartMs      int       `json:"start_ms"`
	EndMs        int       `json:"end_ms"`
	Reasoning    string    `json:"reasoning,omitempty"`
}

// ClipSequence is the ordered clip mapping for a generation, JSONB on generations.
// Built once by the selector and never mutated afterwards.
type ClipSequence []ClipSequenceItem

func (s ClipSequence) Value() (driver.Value, error)  { return json.Marshal(s) }
func (s *ClipSequence) Scan(value interface{}) error { return scanJSONB(value, s) }

// CaptionMetadata records how the selected caption was produced.
type CaptionMetadata struct {
	HookType        string `json:"hook_type,omitempty"`
	EstimatedLength int    `json:"estimated_length,omitempty"`
	CTAIncluded     bool   `json:"cta_included,omitempty"`
	CandidateCount  int    `json:"candidate_count,omitempty"`
}

func (m CaptionMetadata) Value() (driver.Value, error)  { return json.Marshal(m) }
func (m *CaptionMetadata) Scan(value interface{}) error { return scanJSONB(value, m) }

// AIReasoning keeps rationale strings from the ranking service for debugging.
type AIReasoning struct {
	OverallStrategy string `json:"overall_strategy,omitempty"`
	RankerSource    string `json:"ranker_source,omitempty"` // "heuristic" or "openai"
}

func (r AIReasoning) Value() (driver.Value, error)  { return json.Marshal(r) }
func (r *AIReasoning) Scan(value interface{}) error { return scanJSONB(value, r) }

// Models

type Creator struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Handle       *string      `json:"handle,omitempty"`
	BrandProfile BrandProfile `json:"brand_profile"`
	CaptionRules CaptionRules `json:"caption_rules"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type AudioTrack struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	FilePath     string       `json:"file_path"`
	DurationMs   int          `json:"duration_ms"`
	Context      AudioContext `json:"context"`
	BeatTimeline BeatTimeline `json:"beat_timeline"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
}

type Clip struct {
	ID               uuid.UUID    `json:"id"`
	CreatorID        uuid.UUID    `json:"creator_id"`
	FilePath         string       `json:"file_path"`
	ThumbnailPath    *string      `json:"thumbnail_path,omitempty"`
	DurationMs       int          `json:"duration_ms"`
	Category         string       `json:"category"`  // "travel", "cars", "watches", "lifestyle", ...
	Intensity        int          `json:"intensity"` // 1-5
	Mood             string       `json:"mood"`
	BestFor          StringList   `json:"best_for"`
	AvoidPairingWith StringList   `json:"avoid_pairing_with"`
	Orientation      Orientation  `json:"orientation"`
	Analysis         ClipAnalysis `json:"analysis"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
}

type Generation struct {
	ID        uuid.UUID `json:"id"`
	CreatorID uuid.UUID `json:"creator_id"`
	AudioID   uuid.UUID `json:"audio_id"`
	// RequestedClipIDs restricts the candidate catalog when non-empty; the
	// restriction is persisted so caption regeneration with fresh clips
	// honors it too.
	RequestedClipIDs UUIDList     `json:"requested_clip_ids,omitempty"`
	ClipSequence     ClipSequence `json:"clip_sequence"`
	Caption         *string          `json:"caption,omitempty"`
	CaptionMetadata CaptionMetadata  `json:"caption_metadata"`
	AIReasoning     AIReasoning      `json:"ai_reasoning"`
	OutputPath      *string          `json:"output_path,omitempty"`
	Status          GenerationStatus `json:"status"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// DTOs for API requests/responses

type CreateGenerationRequest struct {
	CreatorID uuid.UUID   `json:"creator_id"`
	AudioID   uuid.UUID   `json:"audio_id"`
	ClipIDs   []uuid.UUID `json:"clip_ids,omitempty"` // optional catalog restriction
}

type CreateGenerationResponse struct {
	GenerationID uuid.UUID        `json:"generation_id"`
	Status       GenerationStatus `json:"status"`
}

type ListGenerationsResponse struct {
	Generations []Generation `json:"generations"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

type RegenerateCaptionRequest struct {
	KeepClips bool `json:"keep_clips"`
}

// CaptionOption mirrors caption.Candidate for the API layer.
type CaptionOption struct {
	Text     string `json:"text"`
	HookType string `json:"hook_type,omitempty"`
	Length   int    `json:"length"`
}

type RegenerateCaptionResponse struct {
	CaptionOptions  []CaptionOption `json:"caption_options"`
	NewGenerationID *uuid.UUID      `json:"new_generation_id,omitempty"`
}

type UpdateCaptionRequest struct {
	Caption string `json:"caption"`
}

type CreateCreatorRequest struct {
	Name         string       `json:"name"`
	Handle       *string      `json:"handle,omitempty"`
	BrandProfile BrandProfile `json:"brand_profile"`
	CaptionRules CaptionRules `json:"caption_rules"`
}

type CreateAudioRequest struct {
	Name         string       `json:"name"`
	FilePath     string       `json:"file_path"`
	DurationMs   int          `json:"duration_ms"`
	Context      AudioContext `json:"context"`
	BeatTimeline BeatTimeline `json:"beat_timeline"`
}

type CreateClipRequest struct {
	CreatorID        uuid.UUID   `json:"creator_id"`
	FilePath         string      `json:"file_path"`
	DurationMs       int         `json:"duration_ms"`
	Category         string      `json:"category"`
	Intensity        int         `json:"intensity"`
	Mood             string      `json:"mood"`
	BestFor          StringList  `json:"best_for,omitempty"`
	AvoidPairingWith StringList  `json:"avoid_pairing_with,omitempty"`
	Orientation      Orientation `json:"orientation"`
	Analyze          bool        `json:"analyze"`
}

type UpdateClipRequest struct {
	Category         *string     `json:"category,omitempty"`
	Intensity        *int        `json:"intensity,omitempty"`
	Mood             *string     `json:"mood,omitempty"`
	BestFor          *StringList `json:"best_for,omitempty"`
	AvoidPairingWith *StringList `json:"avoid_pairing_with,omitempty"`
	IsActive         *bool       `json:"is_active,omitempty"`
}
