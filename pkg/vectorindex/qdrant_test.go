package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenscribe/umem/pkg/retry"
)

func noRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}.
		WithSleep(func(_ context.Context, _ time.Duration) error { return nil })
}

func newQdrantTest(t *testing.T, handler http.HandlerFunc) *QdrantIndex {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	idx, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        srv.URL,
		Collection: "memories",
		Dimension:  4,
		Policy:     noRetry(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return idx
}

func collectionExists(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == "GET" && r.URL.Path == "/collections/memories" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":{}}`))
		return true
	}
	return false
}

func TestQdrant_CreatesCollectionAndTenantIndex(t *testing.T) {
	var createdCollection, createdIndex bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/collections/memories":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == "PUT" && r.URL.Path == "/collections/memories":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			vectors := body["vectors"].(map[string]interface{})
			assert.Equal(t, float64(4), vectors["size"])
			assert.Equal(t, "Cosine", vectors["distance"])
			createdCollection = true
			w.Write([]byte(`{"result":true}`))
		case r.Method == "PUT" && r.URL.Path == "/collections/memories/index":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tenant_id", body["field_name"])
			createdIndex = true
			w.Write([]byte(`{"result":true}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	_, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        srv.URL,
		Collection: "memories",
		Dimension:  4,
		Policy:     noRetry(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, createdCollection)
	assert.True(t, createdIndex)
}

func TestQdrant_SearchSendsTenantFilter(t *testing.T) {
	idx := newQdrantTest(t, func(w http.ResponseWriter, r *http.Request) {
		if collectionExists(w, r) {
			return
		}
		require.Equal(t, "/collections/memories/points/search", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		must := body["filter"].(map[string]interface{})["must"].([]interface{})
		first := must[0].(map[string]interface{})
		assert.Equal(t, "tenant_id", first["key"])
		assert.Equal(t, "u1", first["match"].(map[string]interface{})["value"])

		w.Write([]byte(`{"result":[
			{"id":"c1","score":0.9,"payload":{"tenant_id":"u1","document_id":"d1","seq":0,"priority":0,"created_at":1}},
			{"id":"c2","score":0.8,"payload":{"tenant_id":"u1","document_id":"d1","seq":1,"priority":0,"created_at":1}}
		]}`))
	})

	matches, err := idx.Search(context.Background(), "u1", unitVector(4, 0), 5, Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.Equal(t, 0.9, matches[0].Score)
}

func TestQdrant_SearchDropsForeignTenantHits(t *testing.T) {
	idx := newQdrantTest(t, func(w http.ResponseWriter, r *http.Request) {
		if collectionExists(w, r) {
			return
		}
		w.Write([]byte(`{"result":[
			{"id":"c1","score":0.9,"payload":{"tenant_id":"other","document_id":"d9","seq":0,"priority":0,"created_at":1}}
		]}`))
	})

	matches, err := idx.Search(context.Background(), "u1", unitVector(4, 0), 5, Filters{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQdrant_DeleteScopesByTenant(t *testing.T) {
	idx := newQdrantTest(t, func(w http.ResponseWriter, r *http.Request) {
		if collectionExists(w, r) {
			return
		}
		require.Equal(t, "/collections/memories/points/delete", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		must := body["filter"].(map[string]interface{})["must"].([]interface{})
		require.Len(t, must, 2)
		assert.Contains(t, must[0].(map[string]interface{}), "has_id")
		assert.Equal(t, "tenant_id", must[1].(map[string]interface{})["key"])

		w.Write([]byte(`{"result":true}`))
	})

	err := idx.Delete(context.Background(), "u1", []string{"c1", "c2"})
	require.NoError(t, err)
}

func TestQdrant_BadRequestIsNotRetried(t *testing.T) {
	var upserts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if collectionExists(w, r) {
			return
		}
		upserts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":{"error":"bad vector"}}`))
	}))
	defer srv.Close()

	policy := retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}.
		WithSleep(func(_ context.Context, _ time.Duration) error { return nil })
	idx, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        srv.URL,
		Collection: "memories",
		Dimension:  4,
		Policy:     policy,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), "u1", []Point{
		{ChunkID: "c1", Vector: unitVector(4, 0), Meta: Metadata{DocumentID: "d1"}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, upserts, "4xx responses must not consume the retry budget")
}

func TestQdrant_ServerErrorIsUnavailable(t *testing.T) {
	idx := newQdrantTest(t, func(w http.ResponseWriter, r *http.Request) {
		if collectionExists(w, r) {
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := idx.Upsert(context.Background(), "u1", []Point{
		{ChunkID: "c1", Vector: unitVector(4, 0), Meta: Metadata{DocumentID: "d1"}},
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}
