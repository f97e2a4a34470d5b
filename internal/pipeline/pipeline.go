package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// ArtifactSink receives per-stage snapshots of a run. A nil sink disables
// archiving; sink failures are logged, never fatal.
type ArtifactSink interface {
	WriteCycleOutcomes(runID string, outcomes []CycleOutcome) error
	WriteMergedBatches(runID string, batches [][]MergedRecord) error
	WriteGroupedOutput(runID string, out GroupedOutput) error
}

// Summary is the run-level per-stage accounting surfaced to the operator.
type Summary struct {
	Items     int `json:"items"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Dropped   int `json:"dropped"`
	Batches   int `json:"batches"`
	Merged    int `json:"merged"`
	Final     int `json:"final"`

	Duration time.Duration `json:"duration_ns"`
}

// Options configures a Runner. Zero values fall back to defaults, so tests
// can set only what they exercise.
type Options struct {
	Concurrency int
	MaxCycles   int
	MaxRetries  int
	Backoff     time.Duration
	Artifacts   ArtifactSink
}

// Runner executes the full pipeline: a wave of extraction cycles under the
// bounded scheduler, a barrier, then a wave of batch merges under the same
// scheduler, then deterministic aggregation.
type Runner struct {
	sched     *Scheduler
	cycle     *Cycle
	reducer   *MergeReducer
	artifacts ArtifactSink
}

func NewRunner(client InferenceClient, opts Options) (*Runner, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	sched, err := NewScheduler(opts.Concurrency)
	if err != nil {
		return nil, err
	}
	if opts.MaxCycles == 0 {
		opts.MaxCycles = DefaultMaxCycles
	}
	retry := NewRetryPolicy(opts.MaxRetries, opts.Backoff)
	return &Runner{
		sched:     sched,
		cycle:     NewCycle(client, retry, opts.MaxCycles),
		reducer:   NewMergeReducer(client, retry),
		artifacts: opts.Artifacts,
	}, nil
}

// Run processes items to a grouped output. Per-item failures are absorbed
// into sentinel outcomes and counted in the summary; the only returned error
// is cancellation, in which case the partial results processed so far are
// still aggregated and returned.
func (r *Runner) Run(ctx context.Context, runID string, items []WorkItem) (GroupedOutput, Summary, error) {
	start := time.Now()
	sum := Summary{Items: len(items)}

	// Wave 1: extraction. The return is the stage barrier — every cycle has
	// terminated before any merge work begins.
	outcomes, runErr := Run(ctx, r.sched, items, r.cycle.Run)
	r.archiveOutcomes(ctx, runID, outcomes)

	var records []ExtractionRecord
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			if o.Record.SourceKey == "" {
				// Keyless records cannot be grouped; they are archived above
				// but excluded from the merge wave.
				slog.WarnContext(ctx, "dropping record without source key", "item_id", o.ItemID)
				sum.Dropped++
				continue
			}
			sum.Succeeded++
			records = append(records, o.Record)
		case StatusError:
			sum.Failed++
		case StatusSkipped:
			sum.Skipped++
		default:
			// Zero-valued slot from a cancelled admission.
			sum.Skipped++
		}
	}

	// Wave 2: merge, under the same concurrency budget.
	batches := SplitBatches(records, BatchSizeFor(len(records)))
	sum.Batches = len(batches)

	mergedBatches, mergeErr := Run(ctx, r.sched, batches, r.reducer.MergeBatch)
	if runErr == nil {
		runErr = mergeErr
	}
	if runErr != nil {
		// Cancellation must not discard finished extraction work: batches the
		// merge wave never admitted degrade to unmerged singletons, the same
		// way a failed merge call does.
		for i, b := range batches {
			if mergedBatches[i] == nil && len(b.Items) > 0 {
				mergedBatches[i] = passthrough(b)
			}
		}
	}
	r.archiveMerged(ctx, runID, mergedBatches)
	for _, mb := range mergedBatches {
		sum.Merged += len(mb)
	}

	grouped := Aggregate(mergedBatches)
	for _, bucket := range grouped {
		sum.Final += len(bucket)
	}
	r.archiveGrouped(ctx, runID, grouped)

	sum.Duration = time.Since(start)
	slog.InfoContext(ctx, "pipeline run finished",
		"run_id", runID,
		"items", sum.Items,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"dropped", sum.Dropped,
		"batches", sum.Batches,
		"merged", sum.Merged,
		"final", sum.Final,
		"duration", sum.Duration)
	return grouped, sum, runErr
}

func passthrough(b Batch) []MergedRecord {
	out := make([]MergedRecord, len(b.Items))
	for i, rec := range b.Items {
		out[i] = MergedRecord{ExtractionRecord: rec, MergedFrom: 1}
	}
	return out
}

func (r *Runner) archiveOutcomes(ctx context.Context, runID string, outcomes []CycleOutcome) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.WriteCycleOutcomes(runID, outcomes); err != nil {
		slog.ErrorContext(ctx, "failed to archive cycle outcomes", "error", err)
	}
}

func (r *Runner) archiveMerged(ctx context.Context, runID string, batches [][]MergedRecord) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.WriteMergedBatches(runID, batches); err != nil {
		slog.ErrorContext(ctx, "failed to archive merged batches", "error", err)
	}
}

func (r *Runner) archiveGrouped(ctx context.Context, runID string, out GroupedOutput) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.WriteGroupedOutput(runID, out); err != nil {
		slog.ErrorContext(ctx, "failed to archive grouped output", "error", err)
	}
}
