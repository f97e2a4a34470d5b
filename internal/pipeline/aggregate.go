package pipeline

// Aggregate flattens merged batch results, deduplicates across batches by
// source key and partitions the survivors into tag buckets.
//
// Dedup is first-seen-wins in batch-index order, then position within the
// batch. Because the scheduler preserves input order, this makes the final
// output deterministic for a fixed input ordering and fixed collaborator
// responses, no matter which batch finished first on the wall clock.
func Aggregate(mergedBatches [][]MergedRecord) GroupedOutput {
	out := make(GroupedOutput, len(TagOrder))
	seen := make(map[string]bool)

	for _, batch := range mergedBatches {
		for _, rec := range batch {
			if seen[rec.SourceKey] {
				continue
			}
			seen[rec.SourceKey] = true

			tag := TagUntagged
			if rec.Tag != "" {
				tag = ParseTag(string(rec.Tag))
			}
			rec.Tag = tag
			out[tag] = append(out[tag], rec)
		}
	}
	return out
}
