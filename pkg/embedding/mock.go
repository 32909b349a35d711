package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// MockProvider produces deterministic pseudo-embeddings derived from the
// input text. Identical texts map to identical vectors, so similarity
// search over mock vectors behaves consistently in tests.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider with the given dimension.
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

func (p *MockProvider) Dimension() int {
	return p.dimension
}

func (p *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *MockProvider) vector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	v := make([]float32, p.dimension)

	var norm float64
	for i := range v {
		var buf [8]byte
		copy(buf[:], seed[:])
		binary.LittleEndian.PutUint32(buf[4:], uint32(i))
		h := sha256.Sum256(buf[:])
		raw := binary.LittleEndian.Uint32(h[:4])
		v[i] = float32(raw)/float32(math.MaxUint32) - 0.5
		norm += float64(v[i]) * float64(v[i])
	}

	// Unit length keeps cosine scores well-behaved.
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}
