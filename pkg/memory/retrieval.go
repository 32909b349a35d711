package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/internal/tracing"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

const (
	defaultTopK   = 8
	defaultWindow = 1
)

// Summarizer condenses assembled context before it is returned.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// QueryRequest parameterizes a retrieval.
type QueryRequest struct {
	TenantID string
	Query    string
	TopK     int
	Window   int // neighbor chunks to pull on each side; -1 disables expansion
	Filters  vectorindex.Filters
	// Summarize condenses the assembled context through the engine's
	// summarizer, when one is configured.
	Summarize bool
}

// Passage is one document's contribution to the assembled context.
type Passage struct {
	DocumentID string
	Score      float64
	Text       string
}

// QueryResult carries the assembled context and its passages.
type QueryResult struct {
	Text     string
	Passages []Passage
}

// Engine turns a query into assembled context: embed, ANN search,
// resolve matches against metadata, expand each hit with its document
// neighbors, merge and rank, then emit delimited passages.
type Engine struct {
	store      *Store
	embedder   Embedder
	index      vectorindex.Index
	summarizer Summarizer
	logger     zerolog.Logger
}

// EngineConfig holds retrieval engine construction parameters.
type EngineConfig struct {
	Store      *Store
	Embedder   Embedder
	Index      vectorindex.Index
	Summarizer Summarizer // optional
	Logger     zerolog.Logger
}

// NewEngine validates wiring and returns a retrieval engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrInvalidConfig)
	}
	return &Engine{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		summarizer: cfg.Summarizer,
		logger:     cfg.Logger.With().Str("component", "retrieval-engine").Logger(),
	}, nil
}

// Query runs semantic retrieval for a tenant. An empty query or a query
// with no matches yields an empty result and no error.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "umem.retrieval", "retrieval.query",
		attribute.String("tenant_id", req.TenantID))
	defer span.End()

	start := time.Now()
	res, err := e.query(ctx, req)
	observability.RecordSearch(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if req.TenantID == "" {
		return QueryResult{}, ErrMissingTenant
	}
	if strings.TrimSpace(req.Query) == "" {
		return QueryResult{}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	window := req.Window
	if window == 0 {
		window = defaultWindow
	}
	if window < 0 {
		window = 0
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)

	vectors, err := e.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return QueryResult{}, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.index.Search(ctx, req.TenantID, vectors[0], topK, req.Filters)
	if err != nil {
		return QueryResult{}, fmt.Errorf("searching index: %w", err)
	}
	matches = dropUnrelated(matches)
	if len(matches) == 0 {
		return QueryResult{}, nil
	}

	// Resolve matched chunk ids through metadata; vectors whose chunks
	// were swapped away by a concurrent update silently drop out here.
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := e.store.ChunksByIDs(ctx, req.TenantID, ids)
	if err != nil {
		return QueryResult{}, fmt.Errorf("resolving chunks: %w", err)
	}
	if len(chunks) == 0 {
		return QueryResult{}, nil
	}

	chunkByID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	groups := e.groupMatches(matches, chunkByID)
	passages, err := e.buildPassages(ctx, req.TenantID, groups, window)
	if err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{
		Text:     assemble(passages),
		Passages: passages,
	}

	if req.Summarize && e.summarizer != nil && result.Text != "" {
		summary, err := e.summarizer.Summarize(ctx, result.Text)
		if err != nil {
			// Degraded rather than failed; full context still answers.
			logger.Warn().Err(err).Msg("Summarization failed, returning full context")
		} else {
			result.Text = summary
		}
	}

	logger.Debug().
		Int("matches", len(matches)).
		Int("passages", len(passages)).
		Msg("Query assembled")
	return result, nil
}

// dropUnrelated removes ANN candidates with no positive similarity.
// The index returns the topK nearest points even when nothing in the
// tenant's corpus relates to the query, so a floor keeps orthogonal
// chunks from padding the context.
func dropUnrelated(matches []vectorindex.Match) []vectorindex.Match {
	kept := matches[:0]
	for _, m := range matches {
		if m.Score > 0 {
			kept = append(kept, m)
		}
	}
	return kept
}

// docGroup collects one document's surviving matches.
type docGroup struct {
	documentID string
	bestScore  float64
	seqs       map[int]struct{}
}

func (e *Engine) groupMatches(matches []vectorindex.Match, chunkByID map[string]Chunk) []*docGroup {
	byDoc := make(map[string]*docGroup)
	var order []*docGroup
	for _, m := range matches {
		c, ok := chunkByID[m.ChunkID]
		if !ok {
			continue
		}
		g, ok := byDoc[c.DocumentID]
		if !ok {
			g = &docGroup{documentID: c.DocumentID, bestScore: m.Score, seqs: make(map[int]struct{})}
			byDoc[c.DocumentID] = g
			order = append(order, g)
		}
		if m.Score > g.bestScore {
			g.bestScore = m.Score
		}
		g.seqs[c.Seq] = struct{}{}
	}
	return order
}

func (e *Engine) buildPassages(ctx context.Context, tenantID string, groups []*docGroup, window int) ([]Passage, error) {
	type ranked struct {
		Passage
		priority  int
		updatedAt time.Time
	}

	out := make([]ranked, 0, len(groups))
	for _, g := range groups {
		doc, err := e.store.GetDocument(ctx, tenantID, g.documentID)
		if err != nil {
			// Deleted between search and assembly.
			continue
		}

		text, err := e.mergeSegments(ctx, doc, g.seqs, window)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		out = append(out, ranked{
			Passage:   Passage{DocumentID: g.documentID, Score: g.bestScore, Text: text},
			priority:  doc.Priority,
			updatedAt: doc.UpdatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		if !out[i].updatedAt.Equal(out[j].updatedAt) {
			return out[i].updatedAt.After(out[j].updatedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})

	passages := make([]Passage, len(out))
	for i, r := range out {
		passages[i] = r.Passage
	}
	return passages, nil
}

// mergeSegments expands matched seqs by the neighbor window, merges
// runs that touch or overlap, and slices the passage text out of the
// document so chunk overlap never duplicates content.
func (e *Engine) mergeSegments(ctx context.Context, doc Document, seqs map[int]struct{}, window int) (string, error) {
	ordered := make([]int, 0, len(seqs))
	for seq := range seqs {
		ordered = append(ordered, seq)
	}
	sort.Ints(ordered)

	type span struct{ lo, hi int }
	var spans []span
	for _, seq := range ordered {
		lo := seq - window
		if lo < 0 {
			lo = 0
		}
		hi := seq + window
		if len(spans) > 0 && lo <= spans[len(spans)-1].hi+1 {
			if hi > spans[len(spans)-1].hi {
				spans[len(spans)-1].hi = hi
			}
			continue
		}
		spans = append(spans, span{lo, hi})
	}

	content := []rune(doc.Content)
	var parts []string
	for _, sp := range spans {
		chunks, err := e.store.ChunkRange(ctx, doc.TenantID, doc.ID, sp.lo, sp.hi)
		if err != nil {
			return "", err
		}
		if len(chunks) == 0 {
			continue
		}
		start := chunks[0].StartOffset
		end := chunks[len(chunks)-1].EndOffset
		if start < 0 || end > len(content) || start >= end {
			continue
		}
		parts = append(parts, strings.TrimSpace(string(content[start:end])))
	}
	return strings.Join(parts, "\n…\n"), nil
}

// assemble wraps each passage in balanced delimiters so callers can
// strip injected context back out with a single pass.
func assemble(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[[memory %s]]\n%s\n[[/memory]]", p.DocumentID, p.Text)
	}
	return b.String()
}
