package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
// Remote implementations are billable and fallible; failures are
// reported as *domain.ProviderError.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
