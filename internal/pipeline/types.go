package pipeline

import (
	"context"
	"strings"
)

// WorkItem is one unit of source text to run through the extraction cycle.
// Immutable once scheduled.
type WorkItem struct {
	ID       string            `json:"id"`
	Payload  string            `json:"payload"`
	Context  string            `json:"context"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RelevanceVerdict struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
}

type EvaluationVerdict struct {
	Complete       bool     `json:"complete"`
	Score          float64  `json:"score"`
	MissingAspects []string `json:"missing_aspects,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Tag is the administrative level a policy record belongs to.
type Tag string

const (
	TagCity     Tag = "city"
	TagProvince Tag = "province"
	TagNational Tag = "national"
	TagFocus    Tag = "focus"
	TagUntagged Tag = "untagged"
)

// TagOrder is the fixed bucket ordering used for output and publication.
var TagOrder = []Tag{TagCity, TagProvince, TagNational, TagFocus, TagUntagged}

// ParseTag maps a free-form tag string onto a known bucket.
// Anything missing or unrecognized lands in untagged.
func ParseTag(s string) Tag {
	switch Tag(strings.ToLower(strings.TrimSpace(s))) {
	case TagCity:
		return TagCity
	case TagProvince:
		return TagProvince
	case TagNational:
		return TagNational
	case TagFocus:
		return TagFocus
	default:
		return TagUntagged
	}
}

// ExtractionRecord is the structured result derived from one work item.
type ExtractionRecord struct {
	SourceKey             string   `json:"source_key"`
	SpatialScope          string   `json:"spatial_scope,omitempty"`
	TimeRange             string   `json:"time_range,omitempty"`
	PolicyRecommendations []string `json:"policy_recommendations,omitempty"`
	Tag                   Tag      `json:"tag,omitempty"`
}

// CycleStatus tags the terminal state of one extraction cycle.
type CycleStatus string

const (
	StatusOK      CycleStatus = "ok"
	StatusSkipped CycleStatus = "skipped"
	StatusError   CycleStatus = "error"
)

// CycleOutcome is what an ExtractionCycle produces for one item. It is a
// value, never an error: failures are captured as sentinel outcomes so one
// item can never abort the run.
type CycleOutcome struct {
	ItemID     string           `json:"item_id"`
	Status     CycleStatus      `json:"status"`
	Record     ExtractionRecord `json:"record"`
	CycleCount int              `json:"cycle_count"`
	Err        string           `json:"error,omitempty"`
}

// Batch is a fixed-size partition of extraction records merged together.
type Batch struct {
	Index int                `json:"index"`
	Items []ExtractionRecord `json:"items"`
}

// MergedRecord is a record after batch-level merging. MergedFrom counts how
// many extraction records were collapsed into it (1 for a passthrough).
type MergedRecord struct {
	ExtractionRecord
	MergedFrom int `json:"merged_from"`
}

// GroupedOutput is the final tag-partitioned result. Every merged record
// appears in exactly one bucket.
type GroupedOutput map[Tag][]MergedRecord

// InferenceClient is the external inference capability the pipeline consumes.
// Implementations classify relevance, extract structured records, evaluate
// record quality and merge overlapping records.
type InferenceClient interface {
	Classify(ctx context.Context, text, query string) (RelevanceVerdict, error)
	Extract(ctx context.Context, text, query string, feedback []string) (ExtractionRecord, error)
	Evaluate(ctx context.Context, record ExtractionRecord, sourceText string) (EvaluationVerdict, error)
	Merge(ctx context.Context, records []ExtractionRecord) (ExtractionRecord, error)
}
