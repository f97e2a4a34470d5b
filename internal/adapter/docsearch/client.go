package docsearch

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"policyscan/internal/pipeline"
)

const ClassName = "PolicyDocument"

// Document is one search hit: the text plus where it came from.
type Document struct {
	Content    string `json:"content"`
	Provenance string `json:"provenance"`
}

// Service is the document search backend the pipeline ingests from, backed
// by a Weaviate BM25 keyword index over archived policy documents.
type Service struct {
	client *weaviate.Client
	limit  int
}

func NewService(client *weaviate.Client, limit int) *Service {
	if limit < 1 {
		limit = 20
	}
	return &Service{client: client, limit: limit}
}

// Search returns documents matching query. filters are exact-match
// constraints on document properties (e.g. region). A query with zero hits
// returns pipeline.ErrNotFound.
func (s *Service) Search(ctx context.Context, query string, filter map[string]string) ([]Document, error) {
	bm25 := s.client.GraphQL().Bm25ArgBuilder().WithQuery(query)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "url"},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithBM25(bm25).
		WithLimit(s.limit).
		WithFields(fields...)

	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}

	res, err := builder.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var docs []Document
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if hits, ok := data[ClassName].([]interface{}); ok {
			for _, h := range hits {
				props, ok := h.(map[string]interface{})
				if !ok {
					continue
				}
				var doc Document
				if content, ok := props["content"].(string); ok {
					doc.Content = content
				}
				if source, ok := props["source"].(string); ok {
					doc.Provenance = source
				}
				if url, ok := props["url"].(string); ok && url != "" {
					if doc.Provenance != "" {
						doc.Provenance += " "
					}
					doc.Provenance += url
				}
				if doc.Content != "" {
					docs = append(docs, doc)
				}
			}
		}
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("query %q: %w", query, pipeline.ErrNotFound)
	}
	return docs, nil
}

func buildWhere(filter map[string]string) *filters.WhereBuilder {
	if len(filter) == 0 {
		return nil
	}
	var operands []*filters.WhereBuilder
	for prop, value := range filter {
		operands = append(operands, filters.Where().
			WithPath([]string{prop}).
			WithOperator(filters.Equal).
			WithValueString(value))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}
