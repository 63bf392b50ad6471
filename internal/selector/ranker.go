package selector

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// HeuristicRanker is the built-in ranking source. It scores candidates on
// three keys, in priority order:
//
//  1. intensity match — absolute distance between clip and segment intensity
//  2. brand-theme overlap — how many of the creator's lifestyle themes the
//     clip's tags cover
//  3. reuse penalty — clips already placed earlier in the sequence sink
//
// Ties keep catalog insertion order (stable sort), so results are
// deterministic and reproducible for identical inputs.
type HeuristicRanker struct{}

func (r *HeuristicRanker) Name() string { return "heuristic" }

func (r *HeuristicRanker) Rank(_ context.Context, req RankRequest) ([]uuid.UUID, error) {
	type scored struct {
		id           uuid.UUID
		intensityGap int
		themeOverlap int
		usage        int
	}

	scores := make([]scored, len(req.Candidates))
	for i, clip := range req.Candidates {
		scores[i] = scored{
			id:           clip.ID,
			intensityGap: abs(clip.Intensity - req.Segment.Intensity),
			themeOverlap: themeOverlap(clipTags(clip), req.Profile.LifestyleThemes),
			usage:        req.UsageCount[clip.ID],
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].intensityGap != scores[j].intensityGap {
			return scores[i].intensityGap < scores[j].intensityGap
		}
		if scores[i].themeOverlap != scores[j].themeOverlap {
			return scores[i].themeOverlap > scores[j].themeOverlap
		}
		return scores[i].usage < scores[j].usage
	})

	ids := make([]uuid.UUID, len(scores))
	for i, s := range scores {
		ids[i] = s.id
	}
	return ids, nil
}

func themeOverlap(tags []string, themes []string) int {
	if len(themes) == 0 {
		return 0
	}
	overlap := 0
	for _, theme := range themes {
		theme = strings.ToLower(strings.TrimSpace(theme))
		for _, t := range tags {
			if t == theme {
				overlap++
				break
			}
		}
	}
	return overlap
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
