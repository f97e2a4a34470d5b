package pipeline

const (
	DefaultBatchSize    = 5
	LargeBatchSize      = 10
	LargeBatchThreshold = 15
)

// BatchSizeFor picks the merge batch size for n records: large datasets get
// bigger batches to keep the number of merge calls down.
func BatchSizeFor(n int) int {
	if n > LargeBatchThreshold {
		return LargeBatchSize
	}
	return DefaultBatchSize
}

// SplitBatches partitions records into fixed-size batches preserving input
// order. The last batch may be shorter.
func SplitBatches(records []ExtractionRecord, size int) []Batch {
	if size < 1 {
		size = DefaultBatchSize
	}
	var batches []Batch
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, Batch{Index: len(batches), Items: records[start:end]})
	}
	return batches
}
