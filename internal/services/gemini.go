package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/flexgen/api/internal/models"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	// Inline media requests cap around 20MB; library clips are short
	// vertical cuts so this covers them. Larger files are skipped rather
	// than routed through the Files API.
	maxInlineVideoBytes = 19 * 1024 * 1024
)

// GeminiService analyzes clip video content so the selector and caption
// stages have richer metadata to work with. Analysis is best-effort: a clip
// with empty analysis is still selectable on its manual tags.
type GeminiService struct {
	apiKey string
	model  string
}

func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{
		apiKey: apiKey,
		model:  model,
	}
}

const analysisPrompt = `Analyze this short vertical video clip for use in lifestyle social media content.

Respond with JSON only, matching this schema exactly:
{
  "visual_content": "one-sentence description of what happens in the clip",
  "detected_objects": ["..."],
  "detected_actions": ["..."],
  "scene_type": "indoor|outdoor|aerial|pov|wide",
  "dominant_colors": ["..."],
  "has_faces": false,
  "audio_content": "brief description of any audible content, or empty string"
}`

// AnalyzeClip sends the clip video to Gemini and parses the structured
// analysis. Callers treat any error as non-fatal.
func (s *GeminiService) AnalyzeClip(ctx context.Context, filePath string) (models.ClipAnalysis, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return models.ClipAnalysis{}, fmt.Errorf("clip file unavailable: %w", err)
	}
	if info.Size() > maxInlineVideoBytes {
		return models.ClipAnalysis{}, fmt.Errorf("clip too large for analysis: %d bytes", info.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return models.ClipAnalysis{}, fmt.Errorf("failed to read clip: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return models.ClipAnalysis{}, fmt.Errorf("failed to create genai client: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, "video/mp4"),
		genai.NewPartFromText(analysisPrompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	log.Printf("[Gemini] Analyzing clip %s (%d bytes, model=%s)", filePath, len(data), s.model)

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return models.ClipAnalysis{}, fmt.Errorf("analysis request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return models.ClipAnalysis{}, fmt.Errorf("empty analysis response")
	}
	// Some models still wrap JSON in fences despite the MIME type hint
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var analysis models.ClipAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &analysis); err != nil {
		return models.ClipAnalysis{}, fmt.Errorf("failed to parse analysis: %w", err)
	}
	if analysis.IsEmpty() {
		return models.ClipAnalysis{}, fmt.Errorf("analysis response carried no content")
	}

	log.Printf("[Gemini] Clip analyzed: scene=%s objects=%d actions=%d",
		analysis.SceneType, len(analysis.DetectedObjects), len(analysis.DetectedActions))

	return analysis, nil
}
