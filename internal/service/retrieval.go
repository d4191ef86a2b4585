package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/recap/internal/cache"
	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/internal/tokenizer"
	"github.com/sandevgo/recap/pkg/log"
	"github.com/sandevgo/recap/pkg/retry"
)

// contextSeparator joins chunks in an assembled context.
const contextSeparator = "\n\n==========\n\n"

// ContextService answers context queries over ingested conversations. With a
// query it retrieves the semantically closest chunks; without one, or when
// the embedder is unavailable, it falls back to the most recent chunks.
type ContextService struct {
	conversations core.ConversationRepository
	chunks        core.ChunkRepository
	embedder      core.Embedder
	index         core.VectorIndex
	cache         *cache.Cache
	cfg           *config.RetrievalConfig
	retrier       *retry.Retrier
}

func NewContextService(
	conversations core.ConversationRepository,
	chunks core.ChunkRepository,
	embedder core.Embedder,
	index core.VectorIndex,
	c *cache.Cache,
	cfg *config.RetrievalConfig,
) *ContextService {
	return &ContextService{
		conversations: conversations,
		chunks:        chunks,
		embedder:      embedder,
		index:         index,
		cache:         c,
		cfg:           cfg,
		retrier:       retry.NewDefaultRetrier(),
	}
}

// GetContext assembles a token-bounded context string. Cache keys carry the
// chunk-set fingerprint, so a stale entry can never be served after new
// messages arrive: the key itself changes.
func (s *ContextService) GetContext(ctx context.Context, conversationID, query string, forceRefresh bool) (core.ContextResult, error) {
	exists, err := s.conversations.ConversationExists(ctx, conversationID)
	if err != nil {
		return core.ContextResult{}, err
	}
	if !exists {
		return core.ContextResult{}, core.ErrConversationNotFound
	}

	chunks, err := s.chunks.GetChunks(ctx, conversationID)
	if err != nil {
		return core.ContextResult{}, err
	}

	fp := core.Fingerprint(chunks)
	key := contextCacheKey(conversationID, query, fp)

	if !forceRefresh {
		if cached, ok := s.cache.Get(key); ok {
			return core.ContextResult{
				Context:     cached,
				TokenCount:  tokenizer.Count(cached),
				Fingerprint: fp,
				UsedCache:   true,
			}, nil
		}
	}

	if len(chunks) == 0 {
		return core.ContextResult{Fingerprint: fp}, nil
	}

	selected := s.selectChunks(ctx, conversationID, query, chunks)
	text := assembleContext(selected, s.cfg.MaxContextTokens)

	s.cache.Put(key, text, s.cfg.CacheTTL())

	return core.ContextResult{
		Context:     text,
		TokenCount:  tokenizer.Count(text),
		Fingerprint: fp,
	}, nil
}

// selectChunks picks up to TopK chunks. Semantic search is best-effort: any
// failure on the embedding path degrades to the chronological tail, which
// needs no external call.
func (s *ContextService) selectChunks(ctx context.Context, conversationID, query string, chunks []core.Chunk) []core.Chunk {
	if query == "" {
		return recentChunks(chunks, s.cfg.TopK)
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).
			Str("conversation_id", conversationID).
			Msg("query embedding failed, falling back to recent chunks")
		return recentChunks(chunks, s.cfg.TopK)
	}

	hits := s.index.Search(conversationID, vec, s.cfg.TopK)

	byID := make(map[string]core.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	var selected []core.Chunk
	seen := make(map[string]bool)
	for _, h := range hits {
		c, ok := byID[h.ChunkID]
		if !ok || c.State != core.ChunkEmbedded {
			// Stale or superseded index entry; skip rather than serve text
			// that no longer matches the vector.
			continue
		}
		selected = append(selected, c)
		seen[c.ID] = true
	}

	// Pending chunks are invisible to search. Top up with the most recent
	// chunks so fresh messages still reach the context.
	for _, c := range recentChunks(chunks, s.cfg.TopK) {
		if len(selected) >= s.cfg.TopK {
			break
		}
		if !seen[c.ID] {
			selected = append(selected, c)
			seen[c.ID] = true
		}
	}
	return selected
}

func (s *ContextService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var vec []float32
	err := s.retrier.Do(ctx, func() error {
		var err error
		vec, err = s.embedder.Embed(ctx, query)
		return err
	})
	return vec, err
}

// recentChunks returns the last k chunks in ascending ordinal order.
func recentChunks(chunks []core.Chunk, k int) []core.Chunk {
	if len(chunks) <= k {
		return chunks
	}
	return chunks[len(chunks)-k:]
}

// assembleContext joins chunks chronologically under a token budget. Chunks
// are dropped oldest-first when the selection overflows; the final text is
// hard-truncated as a last resort for a single oversized chunk.
func assembleContext(selected []core.Chunk, maxTokens int) string {
	if len(selected) == 0 {
		return ""
	}

	ordered := make([]core.Chunk, len(selected))
	copy(ordered, selected)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	sepTokens := tokenizer.Count(contextSeparator)

	total := 0
	for _, c := range ordered {
		total += c.TokenCount
	}
	total += sepTokens * (len(ordered) - 1)

	for len(ordered) > 1 && total > maxTokens {
		total -= ordered[0].TokenCount + sepTokens
		ordered = ordered[1:]
	}

	parts := make([]string, 0, len(ordered))
	for _, c := range ordered {
		parts = append(parts, c.Content)
	}
	text := strings.Join(parts, contextSeparator)

	if total > maxTokens {
		text = tokenizer.Truncate(text, maxTokens)
	}
	return text
}

func contextCacheKey(conversationID, query, fingerprint string) string {
	if query == "" {
		query = "-"
	}
	return fmt.Sprintf("conversation:%s:context:%s:%s", conversationID, query, fingerprint)
}
