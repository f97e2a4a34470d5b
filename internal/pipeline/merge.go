package pipeline

import (
	"context"
	"log/slog"
)

// MergeReducer collapses the records of one batch that share a source key
// into single merged records via the inference client.
type MergeReducer struct {
	client InferenceClient
	retry  RetryPolicy
}

func NewMergeReducer(client InferenceClient, retry RetryPolicy) *MergeReducer {
	return &MergeReducer{client: client, retry: retry}
}

// MergeBatch groups b's items by source key, keeping both group order and
// within-group order stable. Singleton groups pass through untouched; larger
// groups go to one Merge call. A failed merge degrades to emitting the
// group's originals unmerged — records are never dropped here.
func (m *MergeReducer) MergeBatch(ctx context.Context, b Batch) []MergedRecord {
	var keys []string
	groups := make(map[string][]ExtractionRecord)
	for _, rec := range b.Items {
		if _, seen := groups[rec.SourceKey]; !seen {
			keys = append(keys, rec.SourceKey)
		}
		groups[rec.SourceKey] = append(groups[rec.SourceKey], rec)
	}

	out := make([]MergedRecord, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, MergedRecord{ExtractionRecord: group[0], MergedFrom: 1})
			continue
		}

		merged, err := m.merge(ctx, group)
		if err != nil {
			slog.WarnContext(ctx, "merge failed, keeping records unmerged",
				"source_key", key, "batch", b.Index, "group_size", len(group), "error", err)
			for _, rec := range group {
				out = append(out, MergedRecord{ExtractionRecord: rec, MergedFrom: 1})
			}
			continue
		}
		// The collaborator owns the content union; the key must stay ours.
		merged.SourceKey = key
		out = append(out, MergedRecord{ExtractionRecord: merged, MergedFrom: len(group)})
	}
	return out
}

func (m *MergeReducer) merge(ctx context.Context, group []ExtractionRecord) (ExtractionRecord, error) {
	var merged ExtractionRecord
	err := m.retry.Do(ctx, "merge", func(ctx context.Context) error {
		r, err := m.client.Merge(ctx, group)
		if err != nil {
			return err
		}
		merged = r
		return nil
	})
	return merged, err
}
