package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"policyscan/internal/pipeline"
)

// GraphIngestTopic is where merged records are handed to the downstream
// graph-database ingester.
const GraphIngestTopic = "policy.graph.ingest"

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Service keeps the run ledger and pushes finished records to the graph
// ingest topic.
type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) Begin(ctx context.Context, id, query string, items int) error {
	return s.repo.Create(ctx, &Run{ID: id, Query: query, Status: StatusRunning, Items: items})
}

func (s *Service) Complete(ctx context.Context, id, query string, sum pipeline.Summary) error {
	return s.repo.Finish(ctx, &Run{
		ID:        id,
		Query:     query,
		Status:    StatusCompleted,
		Items:     sum.Items,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		Merged:    sum.Merged,
		Final:     sum.Final,
	})
}

// Fail records an interrupted run. The partial counts still land so the
// ledger row reflects how far the run got before it stopped.
func (s *Service) Fail(ctx context.Context, id, query string, sum pipeline.Summary, reason string) error {
	return s.repo.Finish(ctx, &Run{
		ID:        id,
		Query:     query,
		Status:    StatusFailed,
		Items:     sum.Items,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		Merged:    sum.Merged,
		Final:     sum.Final,
		Error:     reason,
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Run, error) {
	return s.repo.List(ctx)
}

// GraphIngestEvent is the message published per merged record.
type GraphIngestEvent struct {
	RunID  string                `json:"run_id"`
	Tag    pipeline.Tag          `json:"tag"`
	Record pipeline.MergedRecord `json:"record"`
}

// PublishGrouped sends every merged record to the graph ingest topic in the
// fixed tag-bucket order, so downstream consumers see a deterministic stream
// for a given output. Returns the number of records published.
func (s *Service) PublishGrouped(ctx context.Context, runID string, out pipeline.GroupedOutput) (int, error) {
	if s.pub == nil {
		return 0, nil
	}
	published := 0
	for _, tag := range pipeline.TagOrder {
		for _, rec := range out[tag] {
			body, err := json.Marshal(GraphIngestEvent{RunID: runID, Tag: tag, Record: rec})
			if err != nil {
				return published, err
			}
			if err := s.pub.Publish(GraphIngestTopic, body); err != nil {
				return published, fmt.Errorf("publish %s: %w", rec.SourceKey, err)
			}
			published++
		}
	}
	slog.InfoContext(ctx, "published merged records", "run_id", runID, "count", published)
	return published, nil
}
