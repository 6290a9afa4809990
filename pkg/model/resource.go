package model

import (
	"slices"
	"time"
)

// Backend kinds understood by the backend router.
const (
	BackendOllama = "ollama"
	BackendHTTP   = "http"
)

// Resource is a named execution target that tasks are dispatched to.
type Resource struct {
	Name           string             `json:"name" yaml:"name"`
	CapabilityTags []string           `json:"capability_tags,omitempty" yaml:"tags"`
	SizeHint       int                `json:"size_hint" yaml:"size_hint"`
	Available      bool               `json:"available" yaml:"-"`
	Loading        bool               `json:"loading" yaml:"-"`
	Pinned         bool               `json:"pinned,omitempty" yaml:"pinned"`
	Backend        string             `json:"backend,omitempty" yaml:"backend"`
	Endpoint       string             `json:"endpoint,omitempty" yaml:"endpoint"`
	Performance    PerformanceProfile `json:"performance" yaml:"-"`
}

// Selectable reports whether the resource may be handed to a task.
func (r *Resource) Selectable() bool {
	return r.Available && !r.Loading
}

// HasTags reports whether the resource carries every tag in tags.
func (r *Resource) HasTags(tags ...string) bool {
	for _, t := range tags {
		if !slices.Contains(r.CapabilityTags, t) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (r Resource) Clone() Resource {
	out := r
	out.CapabilityTags = slices.Clone(r.CapabilityTags)
	if r.Performance.LastUsedAt != nil {
		t := *r.Performance.LastUsedAt
		out.Performance.LastUsedAt = &t
	}
	return out
}

// PerformanceProfile is the rolling outcome summary of a resource.
type PerformanceProfile struct {
	ResponseCount         int        `json:"response_count"`
	ErrorCount            int        `json:"error_count"`
	AverageResponseTimeMs float64    `json:"average_response_time_ms"`
	LastUsedAt            *time.Time `json:"last_used_at,omitempty"`
}

// Used reports whether the resource has completed at least one dispatch.
func (p PerformanceProfile) Used() bool {
	return p.ResponseCount > 0
}

// Reliability is the success ratio, or 0 for a resource that was never used.
func (p PerformanceProfile) Reliability() float64 {
	if p.ResponseCount <= 0 {
		return 0
	}
	return 1 - float64(p.ErrorCount)/float64(max(p.ResponseCount, 1))
}

// NormalizedSpeed maps the average latency onto a higher-is-better scale.
func (p PerformanceProfile) NormalizedSpeed() float64 {
	if p.ResponseCount <= 0 || p.AverageResponseTimeMs <= 0 {
		return 0
	}
	return 1000 / p.AverageResponseTimeMs
}

// Record folds one dispatch outcome into the profile.
func (p *PerformanceProfile) Record(durationMs float64, success bool, at time.Time) {
	p.ResponseCount++
	if !success {
		p.ErrorCount++
	}
	if p.AverageResponseTimeMs == 0 {
		p.AverageResponseTimeMs = durationMs
	} else {
		p.AverageResponseTimeMs = (p.AverageResponseTimeMs + durationMs) / 2
	}
	p.LastUsedAt = &at
}
