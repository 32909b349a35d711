package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenscribe/umem/pkg/retry"
)

// scriptedProvider fails a fixed number of times before succeeding and
// records the batch sizes it was handed.
type scriptedProvider struct {
	dimension  int
	failures   int
	failWith   error
	batchSizes []int
	calls      int
}

func (p *scriptedProvider) Dimension() int { return p.dimension }

func (p *scriptedProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	p.batchSizes = append(p.batchSizes, len(texts))
	if p.failures > 0 {
		p.failures--
		return nil, p.failWith
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dimension)
		out[i][0] = float32(i)
	}
	return out, nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.
		WithSleep(func(_ context.Context, _ time.Duration) error { return nil })
}

func newTestGateway(t *testing.T, p Provider, batch int) *Gateway {
	t.Helper()
	g, err := NewGateway(GatewayConfig{
		Provider:     p,
		Policy:       testPolicy(),
		MaxBatchSize: batch,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func TestGateway_EmptyInput(t *testing.T) {
	g := newTestGateway(t, &scriptedProvider{dimension: 4}, 8)

	vectors, err := g.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestGateway_SplitsLargeBatches(t *testing.T) {
	p := &scriptedProvider{dimension: 4}
	g := newTestGateway(t, p, 3)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vectors, err := g.Embed(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, vectors, len(texts))
	assert.Equal(t, []int{3, 3, 1}, p.batchSizes)
}

func TestGateway_RetriesTransientFailure(t *testing.T) {
	p := &scriptedProvider{dimension: 4, failures: 2, failWith: errors.New("status 503")}
	g := newTestGateway(t, p, 8)

	vectors, err := g.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 3, p.calls)
}

func TestGateway_ExhaustionIsUnavailable(t *testing.T) {
	p := &scriptedProvider{dimension: 4, failures: 10, failWith: errors.New("connection refused")}
	g := newTestGateway(t, p, 8)

	_, err := g.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, p.calls)
}

func TestGateway_RejectedIsNotRetried(t *testing.T) {
	p := &scriptedProvider{
		dimension: 4,
		failures:  10,
		failWith:  fmt.Errorf("%w: input too large", ErrRejected),
	}
	g := newTestGateway(t, p, 8)

	_, err := g.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, p.calls)
}

// wrongShapeProvider returns vectors one element short.
type wrongShapeProvider struct{ dimension int }

func (p *wrongShapeProvider) Dimension() int { return p.dimension }

func (p *wrongShapeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dimension-1)
	}
	return out, nil
}

func TestGateway_ShapeMismatchIsFatal(t *testing.T) {
	g := newTestGateway(t, &wrongShapeProvider{dimension: 8}, 8)

	_, err := g.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(16)

	a, err := p.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
	assert.Len(t, a[0], 16)
}
