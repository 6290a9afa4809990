package selection

import (
	"maps"
	"slices"
	"strings"

	"github.com/me/orchestra/pkg/model"
)

// Selection reasons.
const (
	ReasonAffinity    = "affinity"
	ReasonSizeFast    = "size_fast"
	ReasonSizeQuality = "size_quality"
	ReasonSpeed       = "speed"
	ReasonReliability = "reliability"
	ReasonScore       = "score"
)

// Blended score weights.
const (
	ReliabilityWeight = 0.7
	SpeedWeight       = 0.3
)

// AffinityStrategy prefers resources whose name contains one of the task
// type's patterns. Patterns are tried in order and, for each, candidates in
// order; the first hit wins.
type AffinityStrategy struct {
	table map[string][]string
}

// NewAffinityStrategy copies table so later edits by the caller have no effect.
func NewAffinityStrategy(table map[string][]string) AffinityStrategy {
	t := make(map[string][]string, len(table))
	for k, v := range table {
		t[strings.ToLower(k)] = slices.Clone(v)
	}
	return AffinityStrategy{table: t}
}

func (AffinityStrategy) Name() string { return ReasonAffinity }

func (s AffinityStrategy) Select(req *Request) (*model.Resource, string) {
	patterns := s.table[strings.ToLower(req.Task.TaskType)]
	for _, p := range patterns {
		p = strings.ToLower(p)
		for i := range req.Candidates {
			if strings.Contains(strings.ToLower(req.Candidates[i].Name), p) {
				return &req.Candidates[i], ReasonAffinity
			}
		}
	}
	return nil, ""
}

// Categories lists the task types that have affinity patterns.
func (s AffinityStrategy) Categories() []string {
	return slices.Sorted(maps.Keys(s.table))
}

// SizeStrategy handles the "fast" and "quality" task types by size hint:
// smallest for fast, largest for quality. Ties keep candidate order.
type SizeStrategy struct{}

func (SizeStrategy) Name() string { return "size" }

func (SizeStrategy) Select(req *Request) (*model.Resource, string) {
	if len(req.Candidates) == 0 {
		return nil, ""
	}
	var better func(a, b int) bool
	var reason string
	switch strings.ToLower(req.Task.TaskType) {
	case "fast":
		better, reason = func(a, b int) bool { return a < b }, ReasonSizeFast
	case "quality":
		better, reason = func(a, b int) bool { return a > b }, ReasonSizeQuality
	default:
		return nil, ""
	}
	best := 0
	for i := 1; i < len(req.Candidates); i++ {
		if better(req.Candidates[i].SizeHint, req.Candidates[best].SizeHint) {
			best = i
		}
	}
	return &req.Candidates[best], reason
}

// PriorityStrategy applies an explicit speed or reliability hint.
type PriorityStrategy struct{}

func (PriorityStrategy) Name() string { return "priority" }

func (PriorityStrategy) Select(req *Request) (*model.Resource, string) {
	if len(req.Candidates) == 0 {
		return nil, ""
	}
	switch req.Task.PriorityHint {
	case model.PrioritySpeed:
		return fastest(req.Candidates), ReasonSpeed
	case model.PriorityReliability:
		best := 0
		for i := 1; i < len(req.Candidates); i++ {
			if req.Candidates[i].Performance.Reliability() > req.Candidates[best].Performance.Reliability() {
				best = i
			}
		}
		return &req.Candidates[best], ReasonReliability
	}
	return nil, ""
}

// fastest returns the candidate with the lowest average latency. Resources
// without measurements sort last; if none has any, the first candidate wins.
func fastest(cands []model.Resource) *model.Resource {
	best := -1
	for i := range cands {
		p := cands[i].Performance
		if !p.Used() || p.AverageResponseTimeMs <= 0 {
			continue
		}
		if best < 0 || p.AverageResponseTimeMs < cands[best].Performance.AverageResponseTimeMs {
			best = i
		}
	}
	if best < 0 {
		best = 0
	}
	return &cands[best]
}

// ScoreStrategy is the blended default:
// score = reliability*0.7 + normalizedSpeed*0.3. Ties keep candidate order.
type ScoreStrategy struct{}

func (ScoreStrategy) Name() string { return ReasonScore }

func (ScoreStrategy) Select(req *Request) (*model.Resource, string) {
	if len(req.Candidates) == 0 {
		return nil, ""
	}
	best, bestScore := 0, Score(req.Candidates[0].Performance)
	for i := 1; i < len(req.Candidates); i++ {
		if s := Score(req.Candidates[i].Performance); s > bestScore {
			best, bestScore = i, s
		}
	}
	return &req.Candidates[best], ReasonScore
}

// Score computes the blended score of a profile.
func Score(p model.PerformanceProfile) float64 {
	return p.Reliability()*ReliabilityWeight + p.NormalizedSpeed()*SpeedWeight
}
