package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"policyscan/internal/pipeline"
)

const DefaultModel = "gemini-1.5-flash"

// 50 requests per minute with small bursts, matching the free-tier quota.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Client implements pipeline.InferenceClient on the Gemini API. Responses
// are requested as JSON and decoded exactly once into the typed shape the
// pipeline expects; a shape mismatch is a ValidationError, never retried.
type Client struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

func NewClient(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

func (c *Client) Close() error { return c.client.Close() }

func (c *Client) Classify(ctx context.Context, text, query string) (pipeline.RelevanceVerdict, error) {
	prompt := fmt.Sprintf(`Decide whether the following text contains substantive regional policy content relevant to the query.
Query: %s

Text:
%s

Respond with JSON: {"relevant": bool, "confidence": number between 0 and 1}`, query, text)

	var payload struct {
		Relevant   bool    `json:"relevant"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.generateJSON(ctx, "classify", prompt, &payload); err != nil {
		return pipeline.RelevanceVerdict{}, err
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return pipeline.RelevanceVerdict{}, &pipeline.ValidationError{
			Op:  "classify",
			Err: fmt.Errorf("confidence %v out of range", payload.Confidence),
		}
	}
	return pipeline.RelevanceVerdict{Relevant: payload.Relevant, Confidence: payload.Confidence}, nil
}

func (c *Client) Extract(ctx context.Context, text, query string, feedback []string) (pipeline.ExtractionRecord, error) {
	var sb strings.Builder
	// Reviewer feedback goes in front of the base instructions so later
	// cycles see everything earlier evaluations asked for.
	if len(feedback) > 0 {
		sb.WriteString("Address the following reviewer feedback from earlier attempts:\n")
		for _, f := range feedback {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `Extract a structured policy record from the text below.
Query context: %s

Text:
%s

Respond with JSON:
{"source_key": "issuing region or body, non-empty", "spatial_scope": "...", "time_range": "...", "policy_recommendations": ["..."], "tag": "city|province|national|focus"}`, query, text)

	var payload extractionPayload
	if err := c.generateJSON(ctx, "extract", sb.String(), &payload); err != nil {
		return pipeline.ExtractionRecord{}, err
	}
	return payload.toRecord("extract")
}

func (c *Client) Evaluate(ctx context.Context, record pipeline.ExtractionRecord, sourceText string) (pipeline.EvaluationVerdict, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return pipeline.EvaluationVerdict{}, err
	}
	prompt := fmt.Sprintf(`Judge whether the extracted policy record fully covers the source text.

Record:
%s

Source text:
%s

Respond with JSON: {"complete": bool, "score": number between 0 and 1, "missing_aspects": ["..."], "suggestions": ["..."]}`, recordJSON, sourceText)

	var verdict pipeline.EvaluationVerdict
	if err := c.generateJSON(ctx, "evaluate", prompt, &verdict); err != nil {
		return pipeline.EvaluationVerdict{}, err
	}
	if verdict.Score < 0 || verdict.Score > 1 {
		return pipeline.EvaluationVerdict{}, &pipeline.ValidationError{
			Op:  "evaluate",
			Err: fmt.Errorf("score %v out of range", verdict.Score),
		}
	}
	return verdict, nil
}

func (c *Client) Merge(ctx context.Context, records []pipeline.ExtractionRecord) (pipeline.ExtractionRecord, error) {
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return pipeline.ExtractionRecord{}, err
	}
	prompt := fmt.Sprintf(`Merge these policy records describing the same source into one.
Union the spatial and time descriptions, deduplicate the policy recommendations, keep the shared source_key and tag.

Records:
%s

Respond with a single JSON record of the same shape.`, recordsJSON)

	var payload extractionPayload
	if err := c.generateJSON(ctx, "merge", prompt, &payload); err != nil {
		return pipeline.ExtractionRecord{}, err
	}
	return payload.toRecord("merge")
}

type extractionPayload struct {
	SourceKey             string   `json:"source_key"`
	SpatialScope          string   `json:"spatial_scope"`
	TimeRange             string   `json:"time_range"`
	PolicyRecommendations []string `json:"policy_recommendations"`
	Tag                   string   `json:"tag"`
}

func (p extractionPayload) toRecord(op string) (pipeline.ExtractionRecord, error) {
	if strings.TrimSpace(p.SourceKey) == "" {
		return pipeline.ExtractionRecord{}, &pipeline.ValidationError{
			Op:  op,
			Err: errors.New("empty source_key"),
		}
	}
	return pipeline.ExtractionRecord{
		SourceKey:             strings.TrimSpace(p.SourceKey),
		SpatialScope:          p.SpatialScope,
		TimeRange:             p.TimeRange,
		PolicyRecommendations: p.PolicyRecommendations,
		Tag:                   pipeline.Tag(p.Tag),
	}, nil
}

// generateJSON runs one model call and decodes the reply into v.
func (c *Client) generateJSON(ctx context.Context, op, prompt string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	model := c.client.GenerativeModel(c.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return classifyErr(op, err)
	}

	raw := responseText(resp)
	if raw == "" {
		return &pipeline.ValidationError{Op: op, Err: errors.New("empty model response")}
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), v); err != nil {
		slog.DebugContext(ctx, "undecodable model response", "op", op, "raw", raw)
		return &pipeline.ValidationError{Op: op, Err: err}
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// stripFences removes a markdown code fence the model sometimes wraps JSON in
// despite the response MIME type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// classifyErr sorts transport failures into the pipeline taxonomy. Quota and
// server-side errors are transient; anything else is terminal.
func classifyErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 429, 500, 502, 503, 504:
			return &pipeline.TransientError{Op: op, Err: err}
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &pipeline.TransientError{Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &pipeline.TransientError{Op: op, Err: err}
	}
	return err
}
