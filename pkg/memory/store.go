package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/internal/tracing"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

// Embedder is the slice of the embedding gateway the store needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Store owns document and chunk metadata and orchestrates
// chunk/embed/index on writes. The vector index is treated as a
// derived, rebuildable cache keyed by chunk id; the store's SQLite
// database is the source of truth for text.
//
// Cross-system consistency without transactions follows a fixed order:
// vectors are written before metadata on add/update and removed before
// metadata on delete, so a crash can leave orphan vectors (cleaned by
// the sweep) but never metadata pointing at vectors that were never
// written.
type Store struct {
	db       *sql.DB
	chunker  *Chunker
	embedder Embedder
	index    vectorindex.Index
	logger   zerolog.Logger

	// Per-document write serialization; unrelated documents proceed in
	// parallel.
	locksMu sync.Mutex
	locks   map[string]*docLock

	now func() time.Time
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// StoreConfig holds store construction parameters.
type StoreConfig struct {
	DBPath   string
	Chunker  *Chunker
	Embedder Embedder
	Index    vectorindex.Index
	Logger   zerolog.Logger
}

// NewStore opens the metadata database and prepares the schema.
func NewStore(cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if cfg.Chunker == nil {
		return nil, fmt.Errorf("%w: chunker is required", ErrInvalidConfig)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrInvalidConfig)
	}

	db, err := sql.Open("sqlite3", "file:"+cfg.DBPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialize at the pool level
	// rather than bouncing off SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		index:    cfg.Index,
		logger:   cfg.Logger.With().Str("component", "memory-store").Logger(),
		locks:    make(map[string]*docLock),
		now:      time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Msg("Memory store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			priority INTEGER NOT NULL,
			tags TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(tenant_id, content_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, created_at);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			UNIQUE(document_id, seq),
			FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, seq);

		CREATE TABLE IF NOT EXISTS orphan_vectors (
			chunk_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_deletes (
			document_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the metadata database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockDocument serializes writes on one document id.
func (s *Store) lockDocument(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &docLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// Add ingests content for a tenant and returns the document id.
// Identical content (after whitespace normalization) dedupes onto the
// existing document: tags/priority/updated_at are refreshed and no
// re-chunking or re-embedding happens.
func (s *Store) Add(ctx context.Context, req AddRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "umem.store", "store.add",
		attribute.String("tenant_id", req.TenantID))
	defer span.End()

	start := s.now()
	id, err := s.add(ctx, req)
	observability.RecordStoreOp("add", s.now().Sub(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return id, err
}

func (s *Store) add(ctx context.Context, req AddRequest) (string, error) {
	if req.TenantID == "" {
		return "", ErrMissingTenant
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	hash := HashContent(req.Content)

	// Dedup check first; the common re-submission path costs one query.
	if existing, err := s.documentIDByHash(ctx, req.TenantID, hash); err != nil {
		return "", err
	} else if existing != "" {
		if err := s.refreshDocument(ctx, existing, req.Priority, req.Tags); err != nil {
			return "", err
		}
		logger.Debug().Str("document_id", existing).Msg("Duplicate content, metadata refreshed")
		return existing, nil
	}

	docID := uuid.New().String()
	now := s.now().UnixMilli()

	pieces := s.chunker.Split(req.Content)
	chunks := make([]Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			ID:          uuid.New().String(),
			DocumentID:  docID,
			Seq:         i,
			Text:        p.Text,
			StartOffset: p.Start,
			EndOffset:   p.End,
		}
		texts[i] = p.Text
	}

	// Embed and index before any metadata becomes visible.
	if len(chunks) > 0 {
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return "", fmt.Errorf("embedding document: %w", err)
		}
		points := buildPoints(req.TenantID, chunks, vectors, req.Priority, req.Tags, now)
		if err := s.index.Upsert(ctx, req.TenantID, points); err != nil {
			return "", fmt.Errorf("indexing document: %w", err)
		}
	}

	if err := s.insertDocument(ctx, req, docID, hash, chunks, now); err != nil {
		// Metadata never landed; reverse the index write so queries
		// cannot see half an add.
		s.rollbackVectors(ctx, req.TenantID, chunkIDs(chunks))

		if isUniqueViolation(err) {
			// Lost a dedup race with a concurrent identical add.
			existing, lookupErr := s.documentIDByHash(ctx, req.TenantID, hash)
			if lookupErr == nil && existing != "" {
				if refreshErr := s.refreshDocument(ctx, existing, req.Priority, req.Tags); refreshErr != nil {
					return "", refreshErr
				}
				return existing, nil
			}
		}
		return "", err
	}

	logger.Info().
		Str("document_id", docID).
		Int("chunks", len(chunks)).
		Msg("Document added")
	s.publishCounts(ctx)
	return docID, nil
}

// AddBulk processes items independently with the same per-document
// atomicity as Add. When failFast is set, the first failure aborts the
// remaining items (their results carry the context error).
func (s *Store) AddBulk(ctx context.Context, reqs []AddRequest, failFast bool) []BulkResult {
	results := make([]BulkResult, len(reqs))
	aborted := false
	for i, req := range reqs {
		if aborted {
			results[i] = BulkResult{Err: fmt.Errorf("aborted after earlier failure")}
			continue
		}
		id, err := s.Add(ctx, req)
		results[i] = BulkResult{DocumentID: id, Err: err}
		if err != nil && failFast {
			aborted = true
		}
	}
	return results
}

// Update mutates a document. A changed content triggers a full
// re-chunk/re-embed/re-index; the metadata swap is atomic, so a
// concurrent read observes either the old or the new state, never a
// mixture.
func (s *Store) Update(ctx context.Context, tenantID, documentID string, req UpdateRequest) error {
	ctx, span := tracing.StartSpan(ctx, "umem.store", "store.update",
		attribute.String("tenant_id", tenantID),
		attribute.String("document_id", documentID))
	defer span.End()

	start := s.now()
	err := s.update(ctx, tenantID, documentID, req)
	observability.RecordStoreOp("update", s.now().Sub(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) update(ctx context.Context, tenantID, documentID string, req UpdateRequest) error {
	if tenantID == "" {
		return ErrMissingTenant
	}

	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.getDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)

	priority := doc.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}
	tags := doc.Tags
	if req.Tags != nil {
		tags = *req.Tags
	}

	contentChanged := req.Content != nil && HashContent(*req.Content) != doc.ContentHash
	if !contentChanged {
		return s.refreshDocument(ctx, documentID, priority, tags)
	}

	oldIDs, err := s.chunkIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}

	content := *req.Content
	now := s.now().UnixMilli()
	pieces := s.chunker.Split(content)
	newChunks := make([]Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		newChunks[i] = Chunk{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			Seq:         i,
			Text:        p.Text,
			StartOffset: p.Start,
			EndOffset:   p.End,
		}
		texts[i] = p.Text
	}

	if len(newChunks) > 0 {
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding document: %w", err)
		}
		points := buildPoints(tenantID, newChunks, vectors, priority, tags, doc.CreatedAt.UnixMilli())
		if err := s.index.Upsert(ctx, tenantID, points); err != nil {
			return fmt.Errorf("indexing document: %w", err)
		}
	}

	if err := s.swapDocument(ctx, doc, content, priority, tags, newChunks, now); err != nil {
		s.rollbackVectors(ctx, tenantID, chunkIDs(newChunks))
		return err
	}

	// The old vectors are unreachable now (their chunk ids left the
	// metadata), so a failed delete is an orphan, not corruption.
	if err := s.index.Delete(ctx, tenantID, oldIDs); err != nil {
		logger.Warn().Err(err).Int("vectors", len(oldIDs)).Msg("Stale vector delete failed, scheduling reconciliation")
		s.recordOrphans(context.WithoutCancel(ctx), tenantID, oldIDs)
	}

	logger.Info().
		Str("document_id", documentID).
		Int("chunks", len(newChunks)).
		Msg("Document updated")
	s.publishCounts(ctx)
	return nil
}

// Delete removes a document, its chunks, and their vectors. Vectors go
// first; a metadata failure afterwards is recorded for the sweep and
// surfaced as ErrInconsistentState.
func (s *Store) Delete(ctx context.Context, tenantID, documentID string) error {
	ctx, span := tracing.StartSpan(ctx, "umem.store", "store.delete",
		attribute.String("tenant_id", tenantID),
		attribute.String("document_id", documentID))
	defer span.End()

	start := s.now()
	err := s.delete(ctx, tenantID, documentID)
	observability.RecordStoreOp("delete", s.now().Sub(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) delete(ctx context.Context, tenantID, documentID string) error {
	if tenantID == "" {
		return ErrMissingTenant
	}

	unlock := s.lockDocument(documentID)
	defer unlock()

	if _, err := s.getDocument(ctx, tenantID, documentID); err != nil {
		return err
	}
	ids, err := s.chunkIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.index.Delete(ctx, tenantID, ids); err != nil {
		// Nothing changed yet; the caller can retry the whole delete.
		return fmt.Errorf("deleting vectors: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		s.recordPendingDelete(context.WithoutCancel(ctx), tenantID, documentID)
		return fmt.Errorf("%w: vectors removed but metadata delete failed for %s: %v",
			ErrInconsistentState, documentID, err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("document_id", documentID).
		Int("chunks", len(ids)).
		Msg("Document deleted")
	s.publishCounts(ctx)
	return nil
}

// DocumentsByTenant returns all of a tenant's documents in creation order.
func (s *Store) DocumentsByTenant(ctx context.Context, tenantID string) ([]Document, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, content, content_hash, priority, tags, created_at, updated_at
		FROM documents
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocument returns one document scoped to a tenant.
func (s *Store) GetDocument(ctx context.Context, tenantID, documentID string) (Document, error) {
	if tenantID == "" {
		return Document{}, ErrMissingTenant
	}
	return s.getDocument(ctx, tenantID, documentID)
}

// ChunksByIDs resolves chunk ids to chunks, dropping ids that do not
// belong to the tenant or are no longer present. Callers (the retrieval
// engine) rely on this to hide vectors whose metadata was swapped away.
func (s *Store) ChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]Chunk, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, tenantID)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (%s) AND d.tenant_id = ?`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ChunkRange returns a document's chunks with seq in [lo, hi], ordered.
func (s *Store) ChunkRange(ctx context.Context, tenantID, documentID string, lo, hi int) ([]Chunk, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ? AND d.tenant_id = ? AND c.seq BETWEEN ? AND ?
		ORDER BY c.seq ASC`, documentID, tenantID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// --- orphan bookkeeping (consumed by the Sweeper) ---

// Orphan is a vector entry scheduled for deletion retry.
type Orphan struct {
	ChunkID  string
	TenantID string
}

// PendingDelete is a document whose metadata delete must be retried.
type PendingDelete struct {
	DocumentID string
	TenantID   string
}

func (s *Store) recordOrphans(ctx context.Context, tenantID string, ids []string) {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO orphan_vectors (chunk_id, tenant_id, recorded_at) VALUES (?, ?, ?)",
			id, tenantID, s.now().UnixMilli()); err != nil {
			s.logger.Error().Err(err).Str("chunk_id", id).Msg("Failed to record orphan vector")
		}
	}
}

func (s *Store) recordPendingDelete(ctx context.Context, tenantID, documentID string) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO pending_deletes (document_id, tenant_id, recorded_at) VALUES (?, ?, ?)",
		documentID, tenantID, s.now().UnixMilli()); err != nil {
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to record pending delete")
	}
}

// Orphans lists vector entries awaiting deletion retry.
func (s *Store) Orphans(ctx context.Context) ([]Orphan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id, tenant_id FROM orphan_vectors ORDER BY recorded_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []Orphan
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.ChunkID, &o.TenantID); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// ResolveOrphans clears successfully deleted orphan entries.
func (s *Store) ResolveOrphans(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM orphan_vectors WHERE chunk_id = ?", id); err != nil {
			return err
		}
	}
	return nil
}

// PendingDeletes lists documents whose metadata delete must be retried.
func (s *Store) PendingDeletes(ctx context.Context) ([]PendingDelete, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, tenant_id FROM pending_deletes ORDER BY recorded_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingDelete
	for rows.Next() {
		var p PendingDelete
		if err := rows.Scan(&p.DocumentID, &p.TenantID); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// RetryPendingDelete re-runs the metadata delete for a recorded failure.
func (s *Store) RetryPendingDelete(ctx context.Context, p PendingDelete) error {
	unlock := s.lockDocument(p.DocumentID)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", p.DocumentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_deletes WHERE document_id = ?", p.DocumentID)
	return err
}

// Counts returns current document/chunk totals.
func (s *Store) Counts(ctx context.Context) (documents, chunks int, err error) {
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&documents); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return 0, 0, err
	}
	return documents, chunks, nil
}

// --- internals ---

func (s *Store) documentIDByHash(ctx context.Context, tenantID, hash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE tenant_id = ? AND content_hash = ?", tenantID, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) refreshDocument(ctx context.Context, documentID string, priority int, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET priority = ?, tags = ?, updated_at = MAX(?, updated_at)
		WHERE id = ?`,
		priority, string(tagsJSON), s.now().UnixMilli(), documentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	return nil
}

func (s *Store) getDocument(ctx context.Context, tenantID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, content, content_hash, priority, tags, created_at, updated_at
		FROM documents
		WHERE id = ? AND tenant_id = ?`, documentID, tenantID)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	return doc, err
}

func (s *Store) chunkIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE document_id = ? ORDER BY seq ASC", documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) insertDocument(ctx context.Context, req AddRequest, docID, hash string, chunks []Chunk, now int64) error {
	tagsJSON, err := json.Marshal(req.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, content, content_hash, priority, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		docID, req.TenantID, req.Content, hash, req.Priority, string(tagsJSON), now, now); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) swapDocument(ctx context.Context, doc Document, content string, priority int, tags []string, newChunks []Chunk, now int64) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", doc.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, content_hash = ?, priority = ?, tags = ?, updated_at = MAX(?, updated_at)
		WHERE id = ?`,
		content, HashContent(content), priority, string(tagsJSON), now, doc.ID); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, newChunks); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, seq, text, start_offset, end_offset)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Seq, c.Text, c.StartOffset, c.EndOffset); err != nil {
			return err
		}
	}
	return nil
}

// rollbackVectors best-effort deletes vectors written by a failed
// write; survivors are recorded for the reconciliation sweep.
func (s *Store) rollbackVectors(ctx context.Context, tenantID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.index.Delete(ctx, tenantID, ids); err != nil {
		s.logger.Warn().Err(err).Int("vectors", len(ids)).Msg("Vector rollback failed, scheduling reconciliation")
		s.recordOrphans(ctx, tenantID, ids)
	}
}

func (s *Store) publishCounts(ctx context.Context) {
	docs, chunks, err := s.Counts(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	observability.SetDocuments(docs)
	observability.SetChunks(chunks)
}

func buildPoints(tenantID string, chunks []Chunk, vectors [][]float32, priority int, tags []string, createdAt int64) []vectorindex.Point {
	points := make([]vectorindex.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorindex.Point{
			ChunkID: c.ID,
			Vector:  vectors[i],
			Meta: vectorindex.Metadata{
				TenantID:   tenantID,
				DocumentID: c.DocumentID,
				Seq:        c.Seq,
				Priority:   priority,
				Tags:       tags,
				CreatedAt:  createdAt,
			},
		}
	}
	return points
}

func chunkIDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc       Document
		tags      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.Content, &doc.ContentHash,
		&doc.Priority, &tags, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
			return Document{}, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	doc.CreatedAt = time.UnixMilli(createdAt)
	doc.UpdatedAt = time.UnixMilli(updatedAt)
	return doc, nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Text, &c.StartOffset, &c.EndOffset); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
