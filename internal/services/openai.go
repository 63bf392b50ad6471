package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/selector"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const openAIModel = "gpt-4o-mini"

// OpenAIService backs the two LLM-facing contracts of the pipeline: the
// advisory clip ranker and the caption candidate source. Both are optional —
// the selector falls back to its heuristic and the pipeline fails the caption
// stage cleanly if the service is unreachable.
type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
	}
}

// ---------------------------------------------------------------------------
// Advisory clip ranker — selector.Ranker implementation
// ---------------------------------------------------------------------------

func (s *OpenAIService) Name() string { return "openai" }

type rankCandidate struct {
	ID            string   `json:"id"`
	DurationMs    int      `json:"duration_ms"`
	Category      string   `json:"category"`
	Intensity     int      `json:"intensity"`
	Mood          string   `json:"mood"`
	BestFor       []string `json:"best_for,omitempty"`
	VisualContent string   `json:"visual_content,omitempty"`
	TimesUsed     int      `json:"times_used"`
}

type rankResponse struct {
	RankedClipIDs []string `json:"ranked_clip_ids"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// Rank asks the model to order an already hard-filtered candidate pool for
// one beat segment. The model can only reorder — IDs outside the pool are
// discarded by the selector, so the hard-filter contract holds regardless of
// what comes back.
func (s *OpenAIService) Rank(ctx context.Context, req selector.RankRequest) ([]uuid.UUID, error) {
	candidates := make([]rankCandidate, len(req.Candidates))
	for i, clip := range req.Candidates {
		candidates[i] = rankCandidate{
			ID:            clip.ID.String(),
			DurationMs:    clip.DurationMs,
			Category:      clip.Category,
			Intensity:     clip.Intensity,
			Mood:          clip.Mood,
			BestFor:       clip.BestFor,
			VisualContent: clip.Analysis.VisualContent,
			TimesUsed:     req.UsageCount[clip.ID],
		}
	}

	candidateJSON, _ := json.MarshalIndent(candidates, "", "  ")
	profileJSON, _ := json.MarshalIndent(req.Profile, "", "  ")
	segmentJSON, _ := json.Marshal(req.Segment)

	systemPrompt := `You are an expert short-form video editor. Given one beat segment of an audio track, a creator brand profile, and a pool of candidate clips, order the candidates from best to worst fit for this segment.

Ranking guidance:
- match the clip intensity to the segment intensity (drops want the highest-intensity content)
- prefer clips aligned with the creator's lifestyle themes and tone
- penalize clips already used earlier in this video (times_used > 0), but reuse is allowed

Respond with JSON only: {"ranked_clip_ids": ["..."], "reasoning": "one sentence"}`

	userPrompt := fmt.Sprintf("BEAT SEGMENT:\n%s\n\nCREATOR BRAND PROFILE:\n%s\n\nCANDIDATE CLIPS:\n%s",
		segmentJSON, profileJSON, candidateJSON)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openAIModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai rank request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var parsed rankResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ranking: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(parsed.RankedClipIDs))
	for _, raw := range parsed.RankedClipIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue // model hallucinated an ID; the selector keeps pool order for the rest
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ranking contained no valid clip ids")
	}

	log.Printf("[OpenAI rank] segment %d (%s): ranked %d/%d candidates",
		req.SegmentIndex, req.Segment.Type, len(ids), len(req.Candidates))

	return ids, nil
}

// ---------------------------------------------------------------------------
// Caption candidate source — caption.Source implementation
// ---------------------------------------------------------------------------

type captionResponse struct {
	Options []caption.Candidate `json:"options"`
}

// GenerateCaptions proposes ranked caption candidates for a finished video.
// Rule enforcement happens in the caption composer, but the rules are shown
// to the model so most candidates survive the filter.
func (s *OpenAIService) GenerateCaptions(ctx context.Context, req caption.Request) ([]caption.Candidate, error) {
	profileJSON, _ := json.MarshalIndent(req.Profile, "", "  ")
	rulesJSON, _ := json.MarshalIndent(req.Rules, "", "  ")

	var clipList strings.Builder
	for _, desc := range req.ClipDescriptions {
		fmt.Fprintf(&clipList, "- %s\n", desc)
	}

	systemPrompt := `You write Instagram captions for short lifestyle videos. Generate 3 caption options, each using a different hook pattern. Follow the caption rules exactly: stay within the length bounds and never use a banned word.

Respond with JSON only: {"options": [{"text": "...", "hook_type": "...", "length": 85}]}`

	userPrompt := fmt.Sprintf(`CREATOR VOICE:
%s

CAPTION RULES:
%s

CLIPS IN VIDEO (in order):
%sAUDIO MOOD: %s`, profileJSON, rulesJSON, clipList.String(), req.AudioContext.Mood)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openAIModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var parsed captionResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse caption options: %w", err)
	}
	if len(parsed.Options) == 0 {
		return nil, fmt.Errorf("caption response had no options")
	}

	log.Printf("[OpenAI caption] generated %d candidates", len(parsed.Options))
	return parsed.Options, nil
}

var _ selector.Ranker = (*OpenAIService)(nil)
var _ caption.Source = (*OpenAIService)(nil)
