// Package caption produces ranked caption candidates for a finished video.
// The candidate text comes from a pluggable source (an LLM in production);
// this package owns the rule enforcement: length bounds and banned words are
// hard filters applied to whatever the source proposes.
package caption

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/flexgen/api/internal/models"
)

// ErrAllFiltered is returned when every proposed candidate violated the
// creator's caption rules.
var ErrAllFiltered = errors.New("all caption candidates were filtered out")

// Candidate is one proposed caption, best-first within a Compose result.
type Candidate struct {
	Text     string `json:"text"`
	HookType string `json:"hook_type,omitempty"`
	Length   int    `json:"length"`
}

// Request carries the generation context a source needs to write captions.
type Request struct {
	Profile          models.BrandProfile
	Rules            models.CaptionRules
	AudioContext     models.AudioContext
	ClipDescriptions []string // ordered, one per sequence item
}

// Source proposes ranked caption candidates. Implementations do not need to
// enforce the rules — the composer filters their output.
type Source interface {
	GenerateCaptions(ctx context.Context, req Request) ([]Candidate, error)
}

// Composer filters and ranks candidates from a Source.
type Composer struct {
	source Source
}

func NewComposer(source Source) *Composer {
	return &Composer{source: source}
}

// Compose returns the candidates that satisfy the creator's rules, preserving
// the source's ranking. Returns ErrAllFiltered when nothing survives.
func (c *Composer) Compose(ctx context.Context, req Request) ([]Candidate, error) {
	req.Rules = req.Rules.WithDefaults()

	proposed, err := c.source.GenerateCaptions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("caption source failed: %w", err)
	}

	var survivors []Candidate
	for _, cand := range proposed {
		cand.Length = utf8.RuneCountInString(cand.Text)
		if reason := violation(cand.Text, req.Rules); reason != "" {
			log.Printf("[Caption] Dropping candidate (%s): %q", reason, truncate(cand.Text, 60))
			continue
		}
		for _, w := range warnings(cand.Text, req.Rules) {
			log.Printf("[Caption] Candidate warning (%s): %q", w, truncate(cand.Text, 60))
		}
		survivors = append(survivors, cand)
	}

	if len(survivors) == 0 {
		return nil, ErrAllFiltered
	}
	return survivors, nil
}

// Validate checks a caption against the creator's rules. Used both by the
// composer and by the manual caption-update path.
func Validate(text string, rules models.CaptionRules) error {
	rules = rules.WithDefaults()
	if reason := violation(text, rules); reason != "" {
		return fmt.Errorf("caption rejected: %s", reason)
	}
	return nil
}

// violation returns a human-readable reason the caption breaks the rules, or
// "" when it passes. Banned-word matching is a case-insensitive substring
// check, so "LINK IN BIO!!" still trips a "link in bio" ban. Lengths count
// characters, not bytes, so emoji-heavy captions are measured fairly.
func violation(text string, rules models.CaptionRules) string {
	n := utf8.RuneCountInString(text)
	if n < rules.MinLength {
		return fmt.Sprintf("too short (%d < %d)", n, rules.MinLength)
	}
	if n > rules.MaxLength {
		return fmt.Sprintf("too long (%d > %d)", n, rules.MaxLength)
	}

	lower := strings.ToLower(text)
	for _, banned := range rules.BannedWords {
		banned = strings.ToLower(strings.TrimSpace(banned))
		if banned == "" {
			continue
		}
		if strings.Contains(lower, banned) {
			return fmt.Sprintf("contains banned word %q", banned)
		}
	}

	if rules.EmojiUsage == models.EmojiNone && countEmoji(text) > 0 {
		return "contains emoji but emoji usage is none"
	}

	if rules.HashtagStrategy == models.HashtagNone && strings.Contains(text, "#") {
		return "contains hashtags but hashtag strategy is none"
	}

	return ""
}

// warnings returns soft rule breaches that don't disqualify a candidate.
func warnings(text string, rules models.CaptionRules) []string {
	var out []string
	if rules.EmojiUsage == models.EmojiMinimal {
		if n := countEmoji(text); n > 3 {
			out = append(out, fmt.Sprintf("has %d emoji but emoji usage is minimal", n))
		}
	}
	maxHashtags := rules.HashtagCount
	if maxHashtags <= 0 {
		maxHashtags = 3
	}
	if n := strings.Count(text, "#"); n > maxHashtags {
		out = append(out, fmt.Sprintf("has %d hashtags, max is %d", n, maxHashtags))
	}
	return out
}

// countEmoji counts runes above the regional-indicator block, which covers
// the common emoji ranges without pulling in a full Unicode table.
func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if r > 0x1F1E6 {
			n++
		}
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
