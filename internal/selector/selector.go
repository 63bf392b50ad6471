// Package selector implements the sequencing algorithm that maps beat
// segments of an audio track to source clips. Selection is a pure function
// over snapshot inputs: the catalog and timeline passed in are never mutated
// and nothing is persisted here.
package selector

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

// SelectionError reports a segment for which no clip could be chosen even
// after relaxing the soft constraints.
type SelectionError struct {
	SegmentIndex int
	Segment      models.BeatSegment
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("no candidate clips for segment %d (%s, %dms, intensity %d)",
		e.SegmentIndex, e.Segment.Type, e.Segment.DurationMs, e.Segment.Intensity)
}

// RankRequest carries everything a Ranker needs to order one segment's
// candidate pool. Candidates have already passed the hard filters; a ranker
// can only reorder them, never reintroduce filtered clips.
type RankRequest struct {
	Segment      models.BeatSegment
	SegmentIndex int
	Profile      models.BrandProfile
	Candidates   []models.Clip
	// UsageCount maps clip IDs to how many times they were already placed
	// earlier in this sequence. Reuse is discouraged, not forbidden.
	UsageCount map[uuid.UUID]int
}

// Ranker orders a candidate pool best-first, returning candidate clip IDs.
// IDs not present in the pool are ignored; omitted candidates keep their
// relative pool order after the ranked ones. Implementations may consult an
// external reasoning service; any error falls back to the built-in heuristic.
type Ranker interface {
	Rank(ctx context.Context, req RankRequest) ([]uuid.UUID, error)
	Name() string
}

// Selector chooses and orders clips against a beat timeline.
type Selector struct {
	ranker    Ranker
	heuristic Ranker
}

// New builds a Selector. A nil ranker means the built-in heuristic is the
// only ranking source.
func New(ranker Ranker) *Selector {
	h := &HeuristicRanker{}
	if ranker == nil {
		ranker = h
	}
	return &Selector{ranker: ranker, heuristic: h}
}

// Result is the selector output: one sequence item per beat segment plus the
// name of the ranking source that produced the ordering.
type Result struct {
	Sequence     models.ClipSequence
	RankerSource string
}

// relaxation tiers, applied in order until the pool is non-empty.
const (
	tierStrict = iota
	tierRelaxDuration
	tierRelaxAvoid
)

// Select maps each beat segment to a clip. For every segment it builds a
// hard-filtered candidate pool (duration fit, avoid-list, anti-repetition
// window of one), ranks it, and takes the top candidate. An empty pool
// relaxes the duration constraint first (shorter clip, looped at render
// time), then the avoid-list and repetition constraints as a last resort,
// recording a reasoning note on the item. A pool still empty after both
// relaxations is a SelectionError.
func (s *Selector) Select(ctx context.Context, profile models.BrandProfile, timeline models.BeatTimeline, catalog []models.Clip) (*Result, error) {
	if len(timeline) == 0 {
		return nil, fmt.Errorf("beat timeline is empty")
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("clip catalog is empty")
	}

	seq := make(models.ClipSequence, 0, len(timeline))
	usage := make(map[uuid.UUID]int, len(catalog))
	rankerSource := s.ranker.Name()

	var prevClipID uuid.UUID
	var prevClipType string

	for i, seg := range timeline {
		var pool []models.Clip
		tier := tierStrict
		for ; tier <= tierRelaxAvoid; tier++ {
			pool = buildPool(catalog, seg, profile, prevClipID, prevClipType, tier)
			if len(pool) > 0 {
				break
			}
		}
		if len(pool) == 0 {
			return nil, &SelectionError{SegmentIndex: i, Segment: seg}
		}

		ranked := s.rankPool(ctx, RankRequest{
			Segment:      seg,
			SegmentIndex: i,
			Profile:      profile,
			Candidates:   pool,
			UsageCount:   usage,
		}, &rankerSource)

		chosen := ranked[0]
		usage[chosen.ID]++

		item := models.ClipSequenceItem{
			ClipID:       chosen.ID,
			SegmentIndex: i,
			BeatSegment:  seg.Type,
			StartMs:      0,
			EndMs:        clipWindowEnd(seg, chosen),
			Reasoning:    relaxationNote(tier, seg, chosen),
		}
		seq = append(seq, item)

		prevClipID = chosen.ID
		prevClipType = seg.RecommendedClipType
	}

	return &Result{Sequence: seq, RankerSource: rankerSource}, nil
}

// rankPool asks the configured ranker for an ordering and falls back to the
// heuristic when the ranker errors or returns nothing usable.
func (s *Selector) rankPool(ctx context.Context, req RankRequest, source *string) []models.Clip {
	ids, err := s.ranker.Rank(ctx, req)
	if err != nil || len(ids) == 0 {
		if err != nil {
			log.Printf("[Selector] %s ranker failed for segment %d, falling back to heuristic: %v",
				s.ranker.Name(), req.SegmentIndex, err)
		}
		*source = s.heuristic.Name()
		ids, _ = s.heuristic.Rank(ctx, req)
	}
	return applyOrder(req.Candidates, ids)
}

// buildPool applies the hard filters for one segment at the given relaxation
// tier. Catalog order is preserved — it is the deterministic tiebreak.
func buildPool(catalog []models.Clip, seg models.BeatSegment, profile models.BrandProfile, prevClipID uuid.UUID, prevClipType string, tier int) []models.Clip {
	var pool []models.Clip
	for _, clip := range catalog {
		if tier < tierRelaxDuration && clip.DurationMs < seg.DurationMs {
			continue
		}
		if tier < tierRelaxAvoid {
			if tagsIntersectAvoid(clip, profile.Avoid) {
				continue
			}
			// Anti-repetition window of 1: the clip used by the immediately
			// preceding segment of the same recommended type is excluded.
			if clip.ID == prevClipID && prevClipType != "" && prevClipType == seg.RecommendedClipType {
				continue
			}
		}
		pool = append(pool, clip)
	}
	return pool
}

// tagsIntersectAvoid reports whether any of the clip's tags (best_for plus
// category and mood) appears on the creator's avoid list. Matching is
// case-insensitive.
func tagsIntersectAvoid(clip models.Clip, avoid []string) bool {
	if len(avoid) == 0 {
		return false
	}
	tags := clipTags(clip)
	for _, a := range avoid {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		for _, t := range tags {
			if t == a {
				return true
			}
		}
	}
	return false
}

func clipTags(clip models.Clip) []string {
	tags := make([]string, 0, len(clip.BestFor)+2)
	for _, t := range clip.BestFor {
		tags = append(tags, strings.ToLower(t))
	}
	if clip.Category != "" {
		tags = append(tags, strings.ToLower(clip.Category))
	}
	if clip.Mood != "" {
		tags = append(tags, strings.ToLower(clip.Mood))
	}
	return tags
}

// clipWindowEnd computes the in-clip window end: the segment duration from a
// zero in-clip offset, clipped to the source duration. When the clip is
// shorter than the segment (duration relaxed), the renderer loops it to fill
// the segment window.
func clipWindowEnd(seg models.BeatSegment, clip models.Clip) int {
	if clip.DurationMs < seg.DurationMs {
		return clip.DurationMs
	}
	return seg.DurationMs
}

func relaxationNote(tier int, seg models.BeatSegment, clip models.Clip) string {
	switch tier {
	case tierRelaxDuration:
		return fmt.Sprintf("duration constraint relaxed: clip is %dms, segment needs %dms; clip loops to fill the window",
			clip.DurationMs, seg.DurationMs)
	case tierRelaxAvoid:
		return "avoid-list and repetition constraints relaxed: no other candidates remained"
	default:
		return ""
	}
}

// applyOrder reorders candidates by the ranked ID list. Unknown IDs are
// dropped; candidates the ranker omitted follow in pool order.
func applyOrder(candidates []models.Clip, ids []uuid.UUID) []models.Clip {
	byID := make(map[uuid.UUID]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}

	ordered := make([]models.Clip, 0, len(candidates))
	seen := make(map[uuid.UUID]bool, len(candidates))
	for _, id := range ids {
		if idx, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, candidates[idx])
			seen[id] = true
		}
	}
	for _, c := range candidates {
		if !seen[c.ID] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
