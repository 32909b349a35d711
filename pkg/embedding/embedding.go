// Package embedding converts text into fixed-dimension vectors through
// an external provider, with batching and bounded retry handled by the
// Gateway so callers never batch manually.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/pkg/retry"
)

// Failure kinds. Callers classify with errors.Is.
var (
	// ErrUnavailable is a transient provider failure that survived the
	// retry budget. The caller must surface it, never drop data.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrRejected is a permanent provider failure (oversized input,
	// bad auth). Never retried.
	ErrRejected = errors.New("embedding request rejected")

	// ErrShapeMismatch means the provider returned vectors of the wrong
	// dimensionality; a configuration or provider bug, fatal.
	ErrShapeMismatch = errors.New("embedding dimension mismatch")
)

// Provider generates vector embeddings from text. Implementations
// return one vector per input, in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Gateway wraps a Provider with transparent batching, bounded
// exponential backoff for transient failures, and dimensionality
// checks. It holds no cache and no state beyond its configuration.
type Gateway struct {
	provider  Provider
	policy    retry.Policy
	batchSize int
	logger    zerolog.Logger
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Provider     Provider
	Policy       retry.Policy
	MaxBatchSize int
	Logger       zerolog.Logger
}

// NewGateway creates a gateway. MaxBatchSize defaults to 64.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 64
	}
	return &Gateway{
		provider:  cfg.Provider,
		policy:    cfg.Policy,
		batchSize: batch,
		logger:    cfg.Logger.With().Str("component", "embedding-gateway").Logger(),
	}, nil
}

// Dimension returns the provider's contract-wide vector width.
func (g *Gateway) Dimension() int {
	return g.provider.Dimension()
}

// Embed returns one vector per input text, in input order. Inputs
// larger than the batch limit are split transparently; each batch is
// retried per the policy before failing with ErrUnavailable.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	err := g.policy.Do(ctx, func(ctx context.Context) error {
		v, err := g.provider.Embed(ctx, texts)
		if err != nil {
			observability.RecordEmbedding(len(texts), false)
			if errors.Is(err, ErrRejected) {
				return retry.Permanent(err)
			}
			g.logger.Warn().Err(err).Int("batch", len(texts)).Msg("Embedding batch failed")
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrShapeMismatch, len(vectors), len(texts))
	}
	want := g.provider.Dimension()
	for i, v := range vectors {
		if len(v) != want {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrShapeMismatch, i, len(v), want)
		}
	}

	observability.RecordEmbedding(len(texts), true)
	return vectors, nil
}
