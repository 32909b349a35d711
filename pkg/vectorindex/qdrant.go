package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/pkg/retry"
)

// QdrantIndex talks to a Qdrant server over its REST API. The
// collection is created on first use with cosine distance and a
// keyword tenant index on tenant_id, and every operation carries a
// mandatory tenant_id filter.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	policy     retry.Policy
	httpClient *http.Client
	logger     zerolog.Logger
}

// QdrantConfig configures a QdrantIndex.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Policy     retry.Policy
	Logger     zerolog.Logger
}

// NewQdrantIndex creates the adapter and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant url and collection are required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.Dimension)
	}

	q := &QdrantIndex{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		policy:     cfg.Policy,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     cfg.Logger.With().Str("component", "qdrant-index").Logger(),
	}

	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	status, _, err := q.do(ctx, "GET", "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	create := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dimension,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]interface{}{
			"payload_m": 16,
			"m":         0,
		},
	}
	if status, body, err := q.do(ctx, "PUT", "/collections/"+q.collection, create); err != nil {
		return err
	} else if status != http.StatusOK {
		return fmt.Errorf("%w: create collection returned %d: %s", ErrUnavailable, status, body)
	}

	fieldIndex := map[string]interface{}{
		"field_name": "tenant_id",
		"field_schema": map[string]interface{}{
			"type":      "keyword",
			"is_tenant": true,
		},
	}
	if status, body, err := q.do(ctx, "PUT", "/collections/"+q.collection+"/index", fieldIndex); err != nil {
		return err
	} else if status != http.StatusOK {
		return fmt.Errorf("%w: create tenant index returned %d: %s", ErrUnavailable, status, body)
	}

	q.logger.Info().Str("collection", q.collection).Msg("Qdrant collection created")
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, tenantID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	payload := make([]map[string]interface{}, len(points))
	for i, p := range points {
		if len(p.Vector) != q.dimension {
			return fmt.Errorf("vector for chunk %s has dimension %d, want %d", p.ChunkID, len(p.Vector), q.dimension)
		}
		meta := p.Meta
		meta.TenantID = tenantID
		payload[i] = map[string]interface{}{
			"id":      p.ChunkID,
			"vector":  p.Vector,
			"payload": meta,
		}
	}

	err := q.policy.Do(ctx, func(ctx context.Context) error {
		status, body, err := q.do(ctx, "PUT", "/collections/"+q.collection+"/points?wait=true",
			map[string]interface{}{"points": payload})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			err := fmt.Errorf("upsert returned %d: %s", status, body)
			if permanentStatus(status) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	observability.RecordIndexOp("upsert", err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	// The filter pairs has_id with the tenant match so a wrong-tenant
	// id can never remove another tenant's point.
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []interface{}{
				map[string]interface{}{"has_id": chunkIDs},
				map[string]interface{}{"key": "tenant_id", "match": map[string]string{"value": tenantID}},
			},
		},
	}

	err := q.policy.Do(ctx, func(ctx context.Context) error {
		status, respBody, err := q.do(ctx, "POST", "/collections/"+q.collection+"/points/delete?wait=true", body)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			err := fmt.Errorf("delete returned %d: %s", status, respBody)
			if permanentStatus(status) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	observability.RecordIndexOp("delete", err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, tenantID string, vector []float32, topK int, filters Filters) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	must := []interface{}{
		map[string]interface{}{"key": "tenant_id", "match": map[string]string{"value": tenantID}},
	}
	if len(filters.Tags) > 0 {
		must = append(must, map[string]interface{}{
			"key":   "tags",
			"match": map[string]interface{}{"any": filters.Tags},
		})
	}
	if filters.MinPriority != nil {
		must = append(must, map[string]interface{}{
			"key":   "priority",
			"range": map[string]interface{}{"gte": *filters.MinPriority},
		})
	}

	reqBody := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       map[string]interface{}{"must": must},
	}

	var result struct {
		Result []struct {
			ID      string   `json:"id"`
			Score   float64  `json:"score"`
			Payload Metadata `json:"payload"`
		} `json:"result"`
	}

	err := q.policy.Do(ctx, func(ctx context.Context) error {
		status, body, err := q.do(ctx, "POST", "/collections/"+q.collection+"/points/search", reqBody)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			err := fmt.Errorf("search returned %d: %s", status, body)
			if permanentStatus(status) {
				return retry.Permanent(err)
			}
			return err
		}
		return json.Unmarshal(body, &result)
	})
	observability.RecordIndexOp("search", err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	matches := make([]Match, 0, len(result.Result))
	for _, r := range result.Result {
		// Belt and braces: the server already filtered by tenant.
		if r.Payload.TenantID != tenantID {
			continue
		}
		matches = append(matches, Match{ChunkID: r.ID, Score: r.Score, Meta: r.Payload})
	}
	sortMatches(matches)
	return matches, nil
}

// permanentStatus reports whether an HTTP status indicates a permanent
// failure. 408 and 429 stay retryable.
func permanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// do issues one request and returns the status and body. Transport
// errors come back wrapped as ErrUnavailable.
func (q *QdrantIndex) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, respBody, nil
}

var _ Index = (*QdrantIndex)(nil)
