package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docsearch/apps/backend/internal/passage"
	"docsearch/apps/backend/internal/retrieval"
	"docsearch/apps/backend/internal/vector"
)

const pageSize = 500

// filterProperties maps metadata keys to filterable class properties.
var filterProperties = map[string]string{
	passage.KeyCategory: "category",
	passage.KeyVersion:  "version",
	passage.KeySource:   "source",
}

// Store is a retrieval.VectorIndex backed by a weaviate class configured for
// cosine distance.
type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client, className string) *Store {
	if className == "" {
		className = vector.DefaultClassName
	}
	return &Store{client: client, class: className}
}

// ObjectID formats a 32-character hex passage ID as a UUID. Equal passage IDs
// map to the same object, so batch writes replace earlier versions.
func ObjectID(passageID string) (strfmt.UUID, error) {
	if len(passageID) != 32 {
		return "", fmt.Errorf("passage id %q is not a 128-bit hex digest", passageID)
	}
	id := strings.ToLower(passageID)
	return strfmt.UUID(id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]), nil
}

func (s *Store) Add(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		id, err := ObjectID(r.ID)
		if err != nil {
			return err
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ID, err)
		}
		objects = append(objects, &models.Object{
			Class: s.class,
			ID:    id,
			Properties: map[string]interface{}{
				"content":      r.Content,
				"passageId":    r.ID,
				"source":       stringProp(r.Metadata, passage.KeySource),
				"page":         passage.IntValue(r.Metadata[passage.KeyPage]),
				"section":      stringProp(r.Metadata, passage.KeySection),
				"title":        stringProp(r.Metadata, passage.KeyTitle),
				"category":     stringProp(r.Metadata, passage.KeyCategory),
				"version":      stringProp(r.Metadata, passage.KeyVersion),
				"tags":         stringProp(r.Metadata, passage.KeyTags),
				"metadataJson": string(metaJSON),
			},
			Vector: models.C11yVector(r.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var msgs []string
	for _, o := range resp {
		if o.Result == nil || o.Result.Errors == nil {
			continue
		}
		for _, e := range o.Result.Errors.Error {
			msgs = append(msgs, fmt.Sprintf("%s: %s", o.ID, e.Message))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("batch write failed for %d objects: %s", len(msgs), strings.Join(msgs, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]retrieval.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	q := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "passageId"},
			graphql.Field{Name: "metadataJson"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
		)
	if where := buildWhere(filter); where != nil {
		q = q.WithWhere(where)
	}

	items, err := s.get(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]retrieval.Candidate, 0, len(items))
	for _, props := range items {
		md, err := decodeMetadata(props["metadataJson"])
		if err != nil {
			return nil, err
		}
		c := retrieval.Candidate{
			ID:       stringField(props, "passageId"),
			Content:  stringField(props, "content"),
			Metadata: md,
			Distance: 1,
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := toFloat(additional["distance"]); ok {
				c.Distance = d
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// AllMetadata walks the class with a cursor so it is not bound by the
// maximum offset of paginated queries.
func (s *Store) AllMetadata(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	after := ""
	for {
		q := s.client.GraphQL().Get().
			WithClassName(s.class).
			WithLimit(pageSize).
			WithFields(
				graphql.Field{Name: "metadataJson"},
				graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
			)
		if after != "" {
			q = q.WithAfter(after)
		}

		items, err := s.get(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, props := range items {
			md, err := decodeMetadata(props["metadataJson"])
			if err != nil {
				return nil, err
			}
			out = append(out, md)
		}
		if len(items) < pageSize {
			return out, nil
		}

		additional, _ := items[len(items)-1]["_additional"].(map[string]interface{})
		next, _ := additional["id"].(string)
		if next == "" || next == after {
			return out, nil
		}
		after = next
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := agg[s.class].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, ok := toFloat(meta["count"])
	if !ok {
		return 0, errors.New("aggregate response without count")
	}
	return int(count), nil
}

func (s *Store) get(ctx context.Context, q *graphql.GetBuilder) ([]map[string]interface{}, error) {
	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	data, _ := res.Data["Get"].(map[string]interface{})
	raw, _ := data[s.class].([]interface{})
	items := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			items = append(items, props)
		}
	}
	return items, nil
}

func buildWhere(filter map[string]string) *filters.WhereBuilder {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if _, ok := filterProperties[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{filterProperties[k]}).
			WithOperator(filters.Equal).
			WithValueText(filter[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// decodeMetadata restores integers as int64 so metadata compares equal to
// what was written.
func decodeMetadata(v interface{}) (map[string]any, error) {
	md := make(map[string]any)
	raw, ok := v.(string)
	if !ok || raw == "" {
		return md, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for k, val := range md {
		if n, ok := val.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				md[k] = i
			} else if f, err := n.Float64(); err == nil {
				md[k] = f
			}
		}
	}
	return md, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func stringField(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func stringProp(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}
