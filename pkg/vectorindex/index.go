// Package vectorindex stores and searches chunk vectors. Every
// operation is scoped to a single tenant; cross-tenant matches are
// rejected at the adapter, not left to callers.
package vectorindex

import (
	"context"
	"errors"
	"sort"
)

// ErrUnavailable indicates the index backend cannot be reached or
// refused the operation. Write failures are never treated as success.
var ErrUnavailable = errors.New("vector index unavailable")

// Metadata travels with each stored vector and is returned on search,
// so ranking tie-breaks need no metadata round-trip.
type Metadata struct {
	TenantID   string   `json:"tenant_id"`
	DocumentID string   `json:"document_id"`
	Seq        int      `json:"seq"`
	Priority   int      `json:"priority"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}

// Point is one vector entry keyed by chunk id.
type Point struct {
	ChunkID string
	Vector  []float32
	Meta    Metadata
}

// Match is one search hit. Score is similarity, higher is closer.
type Match struct {
	ChunkID string
	Score   float64
	Meta    Metadata
}

// Filters restrict a search beyond the mandatory tenant scope.
type Filters struct {
	// Tags keeps only chunks whose document carries at least one of
	// these tags.
	Tags []string

	// MinPriority keeps only chunks whose document priority is at
	// least this value.
	MinPriority *int
}

// Index is the narrow contract over an ANN store.
type Index interface {
	// Upsert inserts or replaces vectors. Re-upserting a chunk id
	// replaces its vector; the operation is idempotent.
	Upsert(ctx context.Context, tenantID string, points []Point) error

	// Delete removes vectors by chunk id. Unknown ids are not an error.
	Delete(ctx context.Context, tenantID string, chunkIDs []string) error

	// Search returns the topK closest chunks for the tenant, ordered by
	// decreasing similarity with deterministic tie-breaks.
	Search(ctx context.Context, tenantID string, vector []float32, topK int, filters Filters) ([]Match, error)
}

// sortMatches orders by similarity desc, then document priority desc,
// then created_at desc, then chunk id for full determinism.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Meta.Priority != b.Meta.Priority {
			return a.Meta.Priority > b.Meta.Priority
		}
		if a.Meta.CreatedAt != b.Meta.CreatedAt {
			return a.Meta.CreatedAt > b.Meta.CreatedAt
		}
		return a.ChunkID < b.ChunkID
	})
}

// matchesFilters applies tag/priority filters to stored metadata.
func matchesFilters(meta Metadata, f Filters) bool {
	if f.MinPriority != nil && meta.Priority < *f.MinPriority {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range meta.Tags {
				if want == have {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
