package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockProvider is a deterministic local embedder for tests and the
// "mock" embeddings provider mode. It hashes word and character-trigram
// features into a fixed-width vector, so prompts sharing vocabulary
// land near each other while unrelated prompts stay apart. Not a
// semantic model; similarity reflects surface overlap only.
type MockProvider struct {
	dimension int
}

// NewMockProvider builds a mock embedder of the given width.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &MockProvider{dimension: dimension}
}

func (m *MockProvider) Dimension() int { return m.dimension }

func (m *MockProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return m.embed(text), nil
}

func (m *MockProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embed(t)
	}
	return out, nil
}

func (m *MockProvider) embed(text string) []float32 {
	vec := make([]float32, m.dimension)
	normalized := NormalizePrompt(text)

	for _, word := range strings.Fields(normalized) {
		vec[m.bucket("w:"+word)] += 2
		runes := []rune(word)
		for i := 0; i+3 <= len(runes); i++ {
			vec[m.bucket("t:"+string(runes[i:i+3]))]++
		}
	}

	if allZero(vec) {
		vec[0] = 1
	}
	return vec
}

func (m *MockProvider) bucket(feature string) int {
	h := fnv.New32a()
	h.Write([]byte(feature))
	return int(h.Sum32()) % m.dimension
}

func allZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
