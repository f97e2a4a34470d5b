package docsearch

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// EnsureSchema creates the PolicyDocument class if it does not exist yet.
// The class is keyword-only (no vectorizer); the pipeline searches it with
// BM25.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       ClassName,
		Description: "An archived policy document or article fragment",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"string"}},
			{Name: "url", DataType: []string{"string"}},
			{Name: "region", DataType: []string{"string"}},
		},
	}
	return client.Schema().ClassCreator().WithClass(class).Do(ctx)
}
