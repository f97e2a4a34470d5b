package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInference lets each test script collaborator behavior per operation.
type stubInference struct {
	mu sync.Mutex

	classifyFn func(text, query string) (RelevanceVerdict, error)
	extractFn  func(text, query string, feedback []string) (ExtractionRecord, error)
	evaluateFn func(record ExtractionRecord, source string) (EvaluationVerdict, error)
	mergeFn    func(records []ExtractionRecord) (ExtractionRecord, error)

	classifyCalls int
	extractCalls  int
	evaluateCalls int
	mergeCalls    int
	extractFeeds  [][]string
	mergeGroups   [][]ExtractionRecord
}

func (s *stubInference) Classify(ctx context.Context, text, query string) (RelevanceVerdict, error) {
	s.mu.Lock()
	s.classifyCalls++
	s.mu.Unlock()
	if s.classifyFn == nil {
		return RelevanceVerdict{Relevant: true, Confidence: 0.9}, nil
	}
	return s.classifyFn(text, query)
}

func (s *stubInference) Extract(ctx context.Context, text, query string, feedback []string) (ExtractionRecord, error) {
	s.mu.Lock()
	s.extractCalls++
	s.extractFeeds = append(s.extractFeeds, append([]string(nil), feedback...))
	s.mu.Unlock()
	if s.extractFn == nil {
		return ExtractionRecord{SourceKey: "key-" + text}, nil
	}
	return s.extractFn(text, query, feedback)
}

func (s *stubInference) Evaluate(ctx context.Context, record ExtractionRecord, source string) (EvaluationVerdict, error) {
	s.mu.Lock()
	s.evaluateCalls++
	s.mu.Unlock()
	if s.evaluateFn == nil {
		return EvaluationVerdict{Complete: true, Score: 1}, nil
	}
	return s.evaluateFn(record, source)
}

func (s *stubInference) Merge(ctx context.Context, records []ExtractionRecord) (ExtractionRecord, error) {
	s.mu.Lock()
	s.mergeCalls++
	s.mergeGroups = append(s.mergeGroups, append([]ExtractionRecord(nil), records...))
	s.mu.Unlock()
	if s.mergeFn == nil {
		merged := records[0]
		for _, r := range records[1:] {
			merged.PolicyRecommendations = append(merged.PolicyRecommendations, r.PolicyRecommendations...)
		}
		return merged, nil
	}
	return s.mergeFn(records)
}

func transientErr(op string) error {
	return &TransientError{Op: op, Err: errors.New("service unavailable")}
}

func newTestCycle(client InferenceClient, maxCycles int) *Cycle {
	p, _ := fastPolicy(3)
	return NewCycle(client, p, maxCycles)
}

func TestCycle_HappyPath(t *testing.T) {
	stub := &stubInference{}
	c := newTestCycle(stub, 2)

	for i := 0; i < 3; i++ {
		item := WorkItem{ID: fmt.Sprintf("item-%d", i), Payload: fmt.Sprintf("text %d", i), Context: "q"}
		out := c.Run(context.Background(), item)
		assert.Equal(t, StatusOK, out.Status)
		assert.Equal(t, 0, out.CycleCount, "first-try completion needs no regeneration")
		assert.NotEmpty(t, out.Record.SourceKey)
	}
	assert.Equal(t, 3, stub.extractCalls)
}

func TestCycle_RegenerationCeiling(t *testing.T) {
	stub := &stubInference{
		evaluateFn: func(record ExtractionRecord, source string) (EvaluationVerdict, error) {
			return EvaluationVerdict{Complete: false, Score: 0.3, Suggestions: []string{"add time range"}}, nil
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text", Context: "q"})
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 2, out.CycleCount)
	assert.Equal(t, 3, stub.extractCalls, "1 initial + maxCycles regenerations")
	assert.NotEmpty(t, out.Record.SourceKey, "terminal record kept even though never judged complete")
}

func TestCycle_FeedbackAccumulates(t *testing.T) {
	evals := 0
	stub := &stubInference{
		evaluateFn: func(record ExtractionRecord, source string) (EvaluationVerdict, error) {
			evals++
			switch evals {
			case 1:
				return EvaluationVerdict{Complete: false, Score: 0.4, Suggestions: []string{"s1"}}, nil
			case 2:
				return EvaluationVerdict{Complete: false, Score: 0.6, Suggestions: []string{"s2"}}, nil
			default:
				return EvaluationVerdict{Complete: true, Score: 0.9}, nil
			}
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text", Context: "q"})
	assert.Equal(t, StatusOK, out.Status)
	require.Len(t, stub.extractFeeds, 3)
	assert.Empty(t, stub.extractFeeds[0])
	assert.Equal(t, []string{"s1"}, stub.extractFeeds[1])
	assert.Equal(t, []string{"s1", "s2"}, stub.extractFeeds[2], "feedback grows, never replaced")
}

func TestCycle_NotRelevantSkips(t *testing.T) {
	stub := &stubInference{
		classifyFn: func(text, query string) (RelevanceVerdict, error) {
			return RelevanceVerdict{Relevant: false, Confidence: 0.8}, nil
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "offtopic"})
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Zero(t, stub.extractCalls)
}

func TestCycle_ClassifyFailureFailsClosed(t *testing.T) {
	stub := &stubInference{
		classifyFn: func(text, query string) (RelevanceVerdict, error) {
			return RelevanceVerdict{}, transientErr("classify")
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text"})
	assert.Equal(t, StatusSkipped, out.Status, "an unreachable classifier must not spend extraction budget")
	assert.Equal(t, 3, stub.classifyCalls, "retries exhausted before the default applies")
	assert.Zero(t, stub.extractCalls)
}

func TestCycle_ExtractFailureProducesSentinel(t *testing.T) {
	stub := &stubInference{
		extractFn: func(text, query string, feedback []string) (ExtractionRecord, error) {
			return ExtractionRecord{}, transientErr("extract")
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text"})
	assert.Equal(t, StatusError, out.Status)
	assert.Contains(t, out.Err, "error during extraction")
	assert.Equal(t, "i1", out.Record.SourceKey)
	assert.Equal(t, 3, stub.extractCalls, "extraction is not re-entered after exhaustion")
	assert.Zero(t, stub.evaluateCalls)
}

func TestCycle_EvaluateFailureFailsOpen(t *testing.T) {
	stub := &stubInference{
		evaluateFn: func(record ExtractionRecord, source string) (EvaluationVerdict, error) {
			return EvaluationVerdict{}, transientErr("evaluate")
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text"})
	assert.Equal(t, StatusOK, out.Status, "a broken evaluator must still terminate the loop")
	assert.Equal(t, 0, out.CycleCount)
	assert.Equal(t, 1, stub.extractCalls)
}

func TestCycle_ValidationErrorNotRetried(t *testing.T) {
	stub := &stubInference{
		extractFn: func(text, query string, feedback []string) (ExtractionRecord, error) {
			return ExtractionRecord{}, &ValidationError{Op: "extract", Err: errors.New("bad shape")}
		},
	}
	c := newTestCycle(stub, 2)

	out := c.Run(context.Background(), WorkItem{ID: "i1", Payload: "text"})
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, 1, stub.extractCalls, "shape mismatches are terminal")
}
