package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenscribe/umem/pkg/embedding"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

const testDimension = 8

type countingProvider struct {
	*embedding.MockProvider
	calls  atomic.Int64
	mu     sync.Mutex
	reject string
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	p.mu.Lock()
	reject := p.reject
	p.mu.Unlock()
	if reject != "" {
		for _, text := range texts {
			if strings.Contains(text, reject) {
				return nil, fmt.Errorf("%w: input flagged", embedding.ErrRejected)
			}
		}
	}
	return p.MockProvider.Embed(ctx, texts)
}

func (p *countingProvider) setReject(substr string) {
	p.mu.Lock()
	p.reject = substr
	p.mu.Unlock()
}

// flakyIndex forwards to a real index but can be told to fail deletes.
type flakyIndex struct {
	vectorindex.Index
	mu          sync.Mutex
	failDeletes bool
}

func (f *flakyIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	f.mu.Lock()
	fail := f.failDeletes
	f.mu.Unlock()
	if fail {
		return vectorindex.ErrUnavailable
	}
	return f.Index.Delete(ctx, tenantID, chunkIDs)
}

func (f *flakyIndex) setFailDeletes(v bool) {
	f.mu.Lock()
	f.failDeletes = v
	f.mu.Unlock()
}

type storeFixture struct {
	store    *Store
	index    *flakyIndex
	provider *countingProvider
}

func newTestStore(t *testing.T) *storeFixture {
	t.Helper()
	dir := t.TempDir()

	idx, err := vectorindex.NewSQLiteIndex(filepath.Join(dir, "vectors.db"), testDimension)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	provider := &countingProvider{MockProvider: embedding.NewMockProvider(testDimension)}
	gateway, err := embedding.NewGateway(embedding.GatewayConfig{
		Provider: provider,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	chunker, err := NewChunker(120, 20)
	require.NoError(t, err)

	flaky := &flakyIndex{Index: idx}
	store, err := NewStore(StoreConfig{
		DBPath:   filepath.Join(dir, "memory.db"),
		Chunker:  chunker,
		Embedder: gateway,
		Index:    flaky,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &storeFixture{store: store, index: flaky, provider: provider}
}

func TestStoreAddAndGet(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{
		TenantID: "tenant-a",
		Content:  "Go is a statically typed language. It compiles fast and ships a single binary.",
		Priority: 3,
		Tags:     []string{"go", "languages"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", doc.TenantID)
	assert.Equal(t, 3, doc.Priority)
	assert.Equal(t, []string{"go", "languages"}, doc.Tags)
	assert.NotEmpty(t, doc.ContentHash)
	assert.False(t, doc.CreatedAt.IsZero())

	docs, err := fx.store.DocumentsByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
}

func TestStoreAddRequiresTenant(t *testing.T) {
	fx := newTestStore(t)

	_, err := fx.store.Add(context.Background(), AddRequest{Content: "no tenant"})
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestStoreAddEmptyContent(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: ""})
	require.NoError(t, err)

	doc, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Empty(t, doc.Content)

	chunks, err := fx.store.ChunkRange(ctx, "tenant-a", id, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestStoreAddDeduplicates(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	first, err := fx.store.Add(ctx, AddRequest{
		TenantID: "tenant-a",
		Content:  "The quick brown fox jumps over the lazy dog.",
		Priority: 1,
	})
	require.NoError(t, err)
	embedsAfterFirst := fx.provider.calls.Load()

	// Same content modulo whitespace must map onto the first document.
	second, err := fx.store.Add(ctx, AddRequest{
		TenantID: "tenant-a",
		Content:  "  The quick   brown fox\njumps over the lazy dog.  ",
		Priority: 5,
		Tags:     []string{"animals"},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, embedsAfterFirst, fx.provider.calls.Load(), "duplicate add must not re-embed")

	doc, err := fx.store.GetDocument(ctx, "tenant-a", first)
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Priority)
	assert.Equal(t, []string{"animals"}, doc.Tags)

	docs, err := fx.store.DocumentsByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStoreTenantIsolation(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	content := "Shared content across tenants."
	idA, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: content})
	require.NoError(t, err)
	idB, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-b", Content: content})
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB, "identical content dedupes per tenant, not globally")

	_, err = fx.store.GetDocument(ctx, "tenant-b", idA)
	assert.ErrorIs(t, err, ErrNotFound)

	err = fx.store.Delete(ctx, "tenant-b", idA)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fx.store.GetDocument(ctx, "tenant-a", idA)
	assert.NoError(t, err)
}

func TestStoreUpdateContentReindexes(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "Original content here."})
	require.NoError(t, err)

	before, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	oldIDs, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, oldIDs)

	newContent := "Entirely different content after the update."
	err = fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &newContent})
	require.NoError(t, err)

	after, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, newContent, after.Content)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)

	// Old chunk ids must no longer resolve.
	stale, err := fx.store.ChunksByIDs(ctx, "tenant-a", oldIDs)
	require.NoError(t, err)
	assert.Empty(t, stale)

	newIDs, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, oldIDs, newIDs)
}

func TestStoreUpdateMetadataOnly(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	content := "Stable content that never changes."
	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: content, Priority: 1})
	require.NoError(t, err)
	embedsAfterAdd := fx.provider.calls.Load()
	oldIDs, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)

	priority := 9
	tags := []string{"pinned"}
	// Resubmitting equal content with new metadata must not re-embed.
	err = fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &content, Priority: &priority, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, embedsAfterAdd, fx.provider.calls.Load())

	doc, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, 9, doc.Priority)
	assert.Equal(t, []string{"pinned"}, doc.Tags)

	newIDs, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, oldIDs, newIDs)
}

func TestStoreUpdateNotFound(t *testing.T) {
	fx := newTestStore(t)

	priority := 1
	err := fx.store.Update(context.Background(), "tenant-a", "missing", UpdateRequest{Priority: &priority})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "Content to delete."})
	require.NoError(t, err)
	ids, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)

	require.NoError(t, fx.store.Delete(ctx, "tenant-a", id))

	_, err = fx.store.GetDocument(ctx, "tenant-a", id)
	assert.ErrorIs(t, err, ErrNotFound)
	chunks, err := fx.store.ChunksByIDs(ctx, "tenant-a", ids)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	err = fx.store.Delete(ctx, "tenant-a", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteVectorFailureLeavesDocument(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "Keep me around."})
	require.NoError(t, err)

	fx.index.setFailDeletes(true)
	err = fx.store.Delete(ctx, "tenant-a", id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInconsistentState)

	// Nothing changed; a later retry succeeds cleanly.
	_, err = fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)

	fx.index.setFailDeletes(false)
	require.NoError(t, fx.store.Delete(ctx, "tenant-a", id))
}

func TestStoreUpdateRecordsOrphansOnStaleDeleteFailure(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "First revision."})
	require.NoError(t, err)
	oldIDs, err := fx.store.chunkIDsForDocument(ctx, id)
	require.NoError(t, err)

	fx.index.setFailDeletes(true)
	newContent := "Second revision."
	require.NoError(t, fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &newContent}))
	fx.index.setFailDeletes(false)

	orphans, err := fx.store.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, len(oldIDs))
	for _, o := range orphans {
		assert.Equal(t, "tenant-a", o.TenantID)
		assert.Contains(t, oldIDs, o.ChunkID)
	}
}

func TestStoreAddBulk(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	reqs := []AddRequest{
		{TenantID: "tenant-a", Content: "First entry."},
		{Content: "No tenant, must fail."},
		{TenantID: "tenant-a", Content: "Third entry."},
	}

	results := fx.store.AddBulk(ctx, reqs, false)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrMissingTenant)
	assert.NoError(t, results[2].Err)
	assert.NotEmpty(t, results[2].DocumentID)

	docs, err := fx.store.DocumentsByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStoreAddBulkFailFast(t *testing.T) {
	fx := newTestStore(t)

	reqs := []AddRequest{
		{Content: "No tenant."},
		{TenantID: "tenant-a", Content: "Never reached."},
	}
	results := fx.store.AddBulk(context.Background(), reqs, true)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrMissingTenant)
	assert.Error(t, results[1].Err)
	assert.Empty(t, results[1].DocumentID)
}

func TestStoreAddBulkEmbeddingRejected(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	fx.provider.setReject("oversized")

	reqs := []AddRequest{
		{TenantID: "tenant-a", Content: "Clean first entry."},
		{TenantID: "tenant-a", Content: "An oversized entry the provider refuses."},
		{TenantID: "tenant-a", Content: "Clean third entry."},
	}
	results := fx.store.AddBulk(ctx, reqs, false)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, embedding.ErrRejected)
	assert.NoError(t, results[2].Err)

	// The rejected item leaves no document behind.
	docs, err := fx.store.DocumentsByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStoreConcurrentUpdatesSameDocument(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "Base revision."})
	require.NoError(t, err)

	revisions := []string{
		"Revision A with its own distinct wording.",
		"Revision B telling an entirely different story.",
	}
	errs := make([]error, len(revisions))

	var wg sync.WaitGroup
	for i := range revisions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &revisions[i]})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// One revision wins wholesale; chunks never mix revisions.
	doc, err := fx.store.GetDocument(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Contains(t, revisions, doc.Content)

	chunks, err := fx.store.ChunkRange(ctx, "tenant-a", id, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Contains(t, doc.Content, c.Text)
	}
}

func TestStoreConcurrentDuplicateAdds(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = fx.store.Add(ctx, AddRequest{
				TenantID: "tenant-a",
				Content:  "Racy identical content.",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	docs, err := fx.store.DocumentsByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStoreChunkRangeClamps(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	content := "First paragraph with enough words to fill a chunk.\n\n" +
		"Second paragraph that also carries a fair amount of text.\n\n" +
		"Third paragraph closing out the document with more words."
	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: content})
	require.NoError(t, err)

	all, err := fx.store.ChunkRange(ctx, "tenant-a", id, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for i, c := range all {
		assert.Equal(t, i, c.Seq)
	}

	sub, err := fx.store.ChunkRange(ctx, "tenant-a", id, 1, 1)
	require.NoError(t, err)
	if len(all) > 1 {
		require.Len(t, sub, 1)
		assert.Equal(t, 1, sub[0].Seq)
	}
}

func TestStoreInvalidConfig(t *testing.T) {
	chunker, err := NewChunker(100, 10)
	require.NoError(t, err)

	_, err = NewStore(StoreConfig{Chunker: chunker})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
