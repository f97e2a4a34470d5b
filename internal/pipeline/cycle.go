package pipeline

import (
	"context"
	"log/slog"

	"policyscan/internal/runctx"
)

const DefaultMaxCycles = 2

// Cycle drives one work item through relevance check, extraction, evaluation
// and bounded regeneration. Every external call goes through the retry
// policy; every failure mode terminates in a sentinel outcome, never an
// error, so the scheduler's worker contract holds.
type Cycle struct {
	client    InferenceClient
	retry     RetryPolicy
	maxCycles int
}

func NewCycle(client InferenceClient, retry RetryPolicy, maxCycles int) *Cycle {
	if maxCycles < 0 {
		maxCycles = DefaultMaxCycles
	}
	return &Cycle{client: client, retry: retry, maxCycles: maxCycles}
}

// Run produces the terminal outcome for item.
//
// Failure defaults follow the operation's role: relevance gates spend, so a
// broken classifier skips the item (fail closed); evaluation controls the
// regeneration loop, so a broken evaluator accepts the current record
// (fail open) and the cycle terminates with the best record it has.
func (c *Cycle) Run(ctx context.Context, item WorkItem) CycleOutcome {
	ctx = runctx.WithItemID(ctx, item.ID)

	verdict := c.checkRelevance(ctx, item)
	if !verdict.Relevant {
		slog.InfoContext(ctx, "item not relevant, skipping", "confidence", verdict.Confidence)
		return CycleOutcome{ItemID: item.ID, Status: StatusSkipped}
	}

	var (
		record   ExtractionRecord
		feedback []string
		cycles   int
	)
	for {
		rec, err := c.extract(ctx, item, feedback)
		if err != nil {
			slog.ErrorContext(ctx, "error during extraction", "error", err)
			return CycleOutcome{
				ItemID:     item.ID,
				Status:     StatusError,
				Record:     ExtractionRecord{SourceKey: item.ID},
				CycleCount: cycles,
				Err:        "error during extraction: " + err.Error(),
			}
		}
		record = rec

		ev := c.evaluate(ctx, record, item.Payload)
		// Suggestions accumulate across cycles and are re-sent whole, so the
		// extraction context only ever grows.
		feedback = append(feedback, ev.Suggestions...)

		// The guard is the only place cycles advances, so it can never pass
		// maxCycles.
		if ev.Complete || cycles >= c.maxCycles {
			slog.InfoContext(ctx, "cycle finished",
				"complete", ev.Complete, "score", ev.Score, "cycles", cycles)
			break
		}
		cycles++
		slog.InfoContext(ctx, "regenerating extraction",
			"cycle", cycles, "missing", ev.MissingAspects)
	}

	return CycleOutcome{ItemID: item.ID, Status: StatusOK, Record: record, CycleCount: cycles}
}

func (c *Cycle) checkRelevance(ctx context.Context, item WorkItem) RelevanceVerdict {
	var verdict RelevanceVerdict
	err := c.retry.Do(ctx, "classify", func(ctx context.Context) error {
		v, err := c.client.Classify(ctx, item.Payload, item.Context)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "relevance check failed, treating as not relevant", "error", err)
		return RelevanceVerdict{}
	}
	return verdict
}

func (c *Cycle) extract(ctx context.Context, item WorkItem, feedback []string) (ExtractionRecord, error) {
	var record ExtractionRecord
	err := c.retry.Do(ctx, "extract", func(ctx context.Context) error {
		r, err := c.client.Extract(ctx, item.Payload, item.Context, feedback)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	return record, err
}

func (c *Cycle) evaluate(ctx context.Context, record ExtractionRecord, sourceText string) EvaluationVerdict {
	var verdict EvaluationVerdict
	err := c.retry.Do(ctx, "evaluate", func(ctx context.Context) error {
		v, err := c.client.Evaluate(ctx, record, sourceText)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "evaluation failed, accepting current record", "error", err)
		return EvaluationVerdict{Complete: true, Score: 0.5}
	}
	return verdict
}
