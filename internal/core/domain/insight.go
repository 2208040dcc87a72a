package domain

import (
	"sort"
	"time"
)

type InsightType string

const (
	InsightSentiment  InsightType = "sentiment"
	InsightSummary    InsightType = "summary"
	InsightActionItem InsightType = "action_item"
	InsightTopic      InsightType = "topic"
	InsightKeyword    InsightType = "keyword"
)

// Insight is one derived analytical fact about a call.
type Insight struct {
	ID         string         `json:"id"`
	CallID     string         `json:"call_id"`
	Type       InsightType    `json:"insight_type"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"confidence,omitempty"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ExtractedInsight is one insight as returned by the analysis provider,
// before it is persisted.
type ExtractedInsight struct {
	Type       InsightType    `json:"insight_type"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"confidence,omitempty"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
}

// InsightTypeRegistry holds the set of categories the pipeline accepts.
// The set is open-ended: deployments may register additional categories.
type InsightTypeRegistry struct {
	types map[InsightType]struct{}
}

func NewInsightTypeRegistry(types []InsightType) *InsightTypeRegistry {
	registry := &InsightTypeRegistry{types: make(map[InsightType]struct{}, len(types))}
	for _, t := range types {
		if t != "" {
			registry.types[t] = struct{}{}
		}
	}
	return registry
}

func DefaultInsightTypes() *InsightTypeRegistry {
	return NewInsightTypeRegistry([]InsightType{
		InsightSentiment,
		InsightSummary,
		InsightActionItem,
		InsightTopic,
		InsightKeyword,
	})
}

func (r *InsightTypeRegistry) Registered(t InsightType) bool {
	_, ok := r.types[t]
	return ok
}

func (r *InsightTypeRegistry) Types() []InsightType {
	out := make([]InsightType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
