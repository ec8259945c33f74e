package service

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	// GetEmbeddings returns one vector per input text, index-aligned.
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// SemanticChunker splits text into topically coherent chunks by detecting
// boundaries in the embedding-distance signal between adjacent sentence
// windows.
type SemanticChunker struct {
	embedder EmbeddingClient
	cfg      SemanticChunkConfig
}

func NewSemanticChunker(embedder EmbeddingClient, cfg SemanticChunkConfig) *SemanticChunker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultSemanticChunkConfig().BufferSize
	}
	if cfg.BreakpointPercentile <= 0 {
		cfg.BreakpointPercentile = DefaultSemanticChunkConfig().BreakpointPercentile
	}
	if cfg.FallbackMaxChars <= 0 {
		cfg.FallbackMaxChars = DefaultSemanticChunkConfig().FallbackMaxChars
	}
	return &SemanticChunker{embedder: embedder, cfg: cfg}
}

// Chunk splits content into chunk texts. Semantic chunking failures are
// recovered locally by the size-capped fallback strategy; the returned
// strategy tag makes the degradation observable to the caller.
func (c *SemanticChunker) Chunk(ctx context.Context, content string) ([]string, domain.ChunkStrategy) {
	chunks, err := c.semanticChunk(ctx, content)
	if err == nil && len(chunks) > 0 {
		return chunks, domain.StrategySemantic
	}

	if err != nil {
		log.Printf("semantic chunking failed, using fallback: %v", err)
	}
	return fallbackChunk(content, c.cfg.FallbackMaxChars), domain.StrategyFallback
}

func (c *SemanticChunker) semanticChunk(ctx context.Context, content string) ([]string, error) {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("no sentences found")
	}

	// Too few sentences for a meaningful distance distribution; each
	// sentence becomes its own chunk.
	if len(sentences) < 3 {
		return sentences, nil
	}

	windows := buildWindows(sentences, c.cfg.BufferSize)

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.combined
	}

	embeddings, err := c.embedder.GetEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sentence windows: %w", err)
	}
	if len(embeddings) != len(windows) {
		return nil, &domain.EmbeddingMismatchError{Expected: len(windows), Got: len(embeddings)}
	}
	for i := range windows {
		windows[i].embedding = embeddings[i]
	}

	_, boundaries := detectBoundaries(windows, c.cfg.BreakpointPercentile)

	return groupChunks(sentences, boundaries), nil
}
