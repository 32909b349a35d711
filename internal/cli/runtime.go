package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/internal/config"
	"github.com/evenscribe/umem/internal/logger"
	"github.com/evenscribe/umem/pkg/embedding"
	"github.com/evenscribe/umem/pkg/memory"
	"github.com/evenscribe/umem/pkg/retry"
	"github.com/evenscribe/umem/pkg/summarize"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

// runtime holds the wired application: config, logging, store, and
// retrieval engine. Commands build one, use it, and close it.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *memory.Store
	engine *memory.Engine
	index  vectorindex.Index
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	})
	if err != nil {
		return nil, err
	}

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	return rt, nil
}

func buildRuntime(ctx context.Context, cfg *config.Config, log *logger.Logger) (*runtime, error) {
	zl := log.GetZerolog()

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := embedding.NewGateway(embedding.GatewayConfig{
		Provider:     provider,
		Policy:       buildPolicy(cfg.Embedding.Retry),
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		Logger:       zl,
	})
	if err != nil {
		return nil, err
	}

	index, err := buildIndex(ctx, cfg, provider.Dimension(), zl)
	if err != nil {
		return nil, err
	}

	chunker, err := memory.NewChunker(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		closeIndex(index)
		return nil, err
	}

	store, err := memory.NewStore(memory.StoreConfig{
		DBPath:   filepath.Join(cfg.DataDir, "memory.db"),
		Chunker:  chunker,
		Embedder: gateway,
		Index:    index,
		Logger:   zl,
	})
	if err != nil {
		closeIndex(index)
		return nil, err
	}

	engine, err := memory.NewEngine(memory.EngineConfig{
		Store:      store,
		Embedder:   gateway,
		Index:      index,
		Summarizer: buildSummarizer(cfg),
		Logger:     zl,
	})
	if err != nil {
		store.Close()
		closeIndex(index)
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		log:    log,
		store:  store,
		engine: engine,
		index:  index,
	}, nil
}

func (rt *runtime) close() {
	rt.store.Close()
	closeIndex(rt.index)
	rt.log.Close()
}

func buildProvider(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "cloudflare":
		return embedding.NewCloudflareProvider(cfg.Embedding.AccountID, cfg.Embedding.APIKey), nil
	case "openai":
		return embedding.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model), nil
	case "mock":
		return embedding.NewMockProvider(cfg.Index.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %s", cfg.Embedding.Provider)
	}
}

func buildPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMS > 0 {
		policy.BaseDelay = time.Duration(cfg.BaseDelayMS) * time.Millisecond
	}
	if cfg.MaxDelayMS > 0 {
		policy.MaxDelay = time.Duration(cfg.MaxDelayMS) * time.Millisecond
	}
	return policy
}

func buildIndex(ctx context.Context, cfg *config.Config, dimension int, zl zerolog.Logger) (vectorindex.Index, error) {
	switch cfg.Index.Backend {
	case "sqlite":
		return vectorindex.NewSQLiteIndex(filepath.Join(cfg.DataDir, "vectors.db"), dimension)
	case "qdrant":
		return vectorindex.NewQdrantIndex(ctx, vectorindex.QdrantConfig{
			URL:        cfg.Index.Qdrant.URL,
			APIKey:     cfg.Index.Qdrant.APIKey,
			Collection: cfg.Index.Qdrant.Collection,
			Dimension:  dimension,
			Policy:     buildPolicy(cfg.Embedding.Retry),
			Logger:     zl,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %s", cfg.Index.Backend)
	}
}

func buildSummarizer(cfg *config.Config) memory.Summarizer {
	switch cfg.Summarize.Provider {
	case "anthropic":
		return summarize.NewAnthropicSummarizer(cfg.Summarize.APIKey, cfg.Summarize.Model, cfg.Summarize.MaxTokens)
	case "cloudflare":
		return summarize.NewCloudflareSummarizer(cfg.Summarize.AccountID, cfg.Summarize.APIKey, cfg.Summarize.Model, cfg.Summarize.MaxTokens)
	default:
		return nil
	}
}

func closeIndex(index vectorindex.Index) {
	if c, ok := index.(io.Closer); ok {
		c.Close()
	}
}
