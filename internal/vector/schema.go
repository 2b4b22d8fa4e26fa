package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

const (
	DefaultClassName = "Passage"
	// DistanceMetric is the only metric confidence scoring is defined for.
	DistanceMetric = "cosine"
)

var ErrDistanceMismatch = errors.New("class uses an unsupported distance metric")

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func Properties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "passageId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "page", DataType: []string{"int"}},
		{Name: "section", DataType: []string{"text"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "category", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "version", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "tags", DataType: []string{"text"}, Tokenization: "field"},
		// full passage metadata as JSON, read back verbatim
		{Name: "metadataJson", DataType: []string{"text"}},
	}
}

// EnsureSchema creates the passage class, or adds properties missing from an
// existing one.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	if className == "" {
		className = DefaultClassName
	}
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:             className,
			Description:       "A passage of a PDF document",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": DistanceMetric},
			Properties:        properties,
		})
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}
	if cfg, ok := class.VectorIndexConfig.(map[string]interface{}); ok {
		if d, ok := cfg["distance"].(string); ok && d != "" && d != DistanceMetric {
			return fmt.Errorf("%w: %s uses %q", ErrDistanceMismatch, className, d)
		}
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureSchemaWithRetry retries EnsureSchema while Weaviate is starting up.
func EnsureSchemaWithRetry(ctx context.Context, client SchemaClient, className string, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = EnsureSchema(ctx, client, className); err == nil || errors.Is(err, ErrDistanceMismatch) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
