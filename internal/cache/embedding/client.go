package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"asahi/internal/domain"
)

const defaultBatchSize = 32

// Client wraps a Provider with retries, batch chunking, and output
// validation. All vectors it returns are unit length with the
// configured dimension.
type Client struct {
	provider   Provider
	dimension  int
	maxRetries uint64
	batchSize  int
}

// NewClient builds a retrying client. maxRetries counts retries after
// the first attempt; zero disables retrying. batchSize caps how many
// texts go to the provider per call; zero or negative falls back to
// the default.
func NewClient(provider Provider, maxRetries, batchSize int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Client{
		provider:   provider,
		dimension:  provider.Dimension(),
		maxRetries: uint64(maxRetries),
		batchSize:  batchSize,
	}
}

// Dimension reports the configured embedding width.
func (c *Client) Dimension() int { return c.dimension }

// EmbedText embeds one prompt, retrying transient provider failures
// with exponential backoff.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds a batch of prompts, splitting the provider calls
// into chunks of at most the configured batch size.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	var raw [][]float32

	op := func() error {
		vecs, err := c.provider.EmbedTexts(ctx, texts)
		if err != nil {
			// Dimension faults surface below; everything from the
			// provider itself is treated as transient.
			return err
		}
		raw = vecs
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackoff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, domain.Wrap(domain.ErrEmbedding, "embedding provider failed", err)
	}

	if len(raw) != len(texts) {
		return nil, domain.E(domain.ErrEmbedding, "provider returned wrong number of embeddings")
	}

	out := make([][]float32, len(raw))
	for i, vec := range raw {
		normalized, err := validateAndNormalize(vec, c.dimension)
		if err != nil {
			return nil, err
		}
		out[i] = normalized
	}
	return out, nil
}

func newExponentialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}
