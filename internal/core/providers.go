package core

import (
	"context"
	"time"
)

// Embedder maps text to a fixed-dimension vector via an external model call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer is the external summarization/drafting model.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VectorIndex stores chunk vectors partitioned by conversation.
type VectorIndex interface {
	Upsert(conversationID, chunkID string, ordinal int, vec []float32)
	Search(conversationID string, query []float32, k int) []ScoredChunk
	Remove(conversationID, chunkID string)
	Drop(conversationID string)
	Save(conversationID string) error
}

// ContextProvider answers "give me context for conversation X".
type ContextProvider interface {
	GetContext(ctx context.Context, conversationID, query string, forceRefresh bool) (ContextResult, error)
}

// Cache is a TTL key/value store. It is strictly an optimization layer:
// a cold cache changes latency, never results.
type Cache interface {
	Get(key string) (string, bool)
	Put(key, value string, ttl time.Duration)
	Invalidate(key string)
}
