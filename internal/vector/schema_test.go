package vector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       []error
	calls           int
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	m.calls++
	if len(m.ExistsErr) > 0 {
		err := m.ExistsErr[0]
		m.ExistsErr = m.ExistsErr[1:]
		if err != nil {
			return false, err
		}
	}
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client, ""))
	require.NotNil(t, client.CreatedClass)

	class := client.CreatedClass
	assert.Equal(t, DefaultClassName, class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	assert.Equal(t, map[string]interface{}{"distance": "cosine"}, class.VectorIndexConfig)

	byName := make(map[string]*models.Property)
	for _, p := range class.Properties {
		byName[p.Name] = p
	}
	for _, name := range []string{"category", "version", "source", "passageId"} {
		require.Contains(t, byName, name)
		assert.Equal(t, "field", byName[name].Tokenization, name)
	}
	assert.Equal(t, []string{"int"}, byName["page"].DataType)
	assert.Contains(t, byName, "metadataJson")
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: "Docs",
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "source", DataType: []string{"text"}},
			},
		},
	}

	require.NoError(t, EnsureSchema(context.Background(), client, "Docs"))
	assert.Nil(t, client.CreatedClass)

	added := make(map[string]bool)
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.True(t, added["category"])
	assert.True(t, added["metadataJson"])
	assert.False(t, added["content"])
	assert.Len(t, client.AddedProperties, len(Properties())-2)
}

func TestEnsureSchema_RejectsOtherDistance(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:             DefaultClassName,
			VectorIndexConfig: map[string]interface{}{"distance": "l2-squared"},
		},
	}

	err := EnsureSchema(context.Background(), client, DefaultClassName)
	assert.True(t, errors.Is(err, ErrDistanceMismatch))
}

func TestEnsureSchemaWithRetry(t *testing.T) {
	t.Run("Recovers after transient errors", func(t *testing.T) {
		client := &MockSchemaClient{ExistsErr: []error{errors.New("starting"), errors.New("starting")}}
		err := EnsureSchemaWithRetry(context.Background(), client, "", 3, time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, 3, client.calls)
		assert.NotNil(t, client.CreatedClass)
	})

	t.Run("Gives up", func(t *testing.T) {
		client := &MockSchemaClient{ExistsErr: []error{errors.New("down"), errors.New("down")}}
		err := EnsureSchemaWithRetry(context.Background(), client, "", 2, time.Millisecond)
		assert.EqualError(t, err, "down")
		assert.Equal(t, 2, client.calls)
	})

	t.Run("Does not retry a metric mismatch", func(t *testing.T) {
		client := &MockSchemaClient{ExistingClass: &models.Class{VectorIndexConfig: map[string]interface{}{"distance": "dot"}}}
		err := EnsureSchemaWithRetry(context.Background(), client, "", 5, time.Millisecond)
		assert.ErrorIs(t, err, ErrDistanceMismatch)
		assert.Equal(t, 1, client.calls)
	})
}
