package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sandevgo/recap/internal/cache"
	"github.com/sandevgo/recap/internal/chunker"
	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/pkg/log"
	"github.com/sandevgo/recap/pkg/retry"
)

const embedBatchSize = 64

// Ingestor owns the write path: it appends messages, re-chunks the affected
// tail and keeps the vector index in sync. Writes to a single conversation are
// serialized; different conversations ingest concurrently.
type Ingestor struct {
	conversations core.ConversationRepository
	chunks        core.ChunkRepository
	embedder      core.Embedder
	index         core.VectorIndex
	cache         *cache.Cache
	chunkCfg      chunker.Config
	retrier       *retry.Retrier

	locks sync.Map // conversationID -> *sync.Mutex
}

func NewIngestor(
	conversations core.ConversationRepository,
	chunks core.ChunkRepository,
	embedder core.Embedder,
	index core.VectorIndex,
	c *cache.Cache,
	cfg *config.ChunkerConfig,
) *Ingestor {
	return &Ingestor{
		conversations: conversations,
		chunks:        chunks,
		embedder:      embedder,
		index:         index,
		cache:         c,
		chunkCfg: chunker.Config{
			MaxTokens:       cfg.MaxChunkTokens,
			MaxMessages:     cfg.MaxChunkMessages,
			OverlapMessages: cfg.OverlapMessages,
		},
		retrier: retry.NewDefaultRetrier(),
	}
}

// CreateConversation registers a conversation, generating an ID when none is
// given, and optionally ingests an initial batch of messages.
func (s *Ingestor) CreateConversation(ctx context.Context, conversationID string, msgs []core.Message) (string, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if err := s.conversations.CreateConversation(ctx, conversationID); err != nil {
		return "", &core.IngestionError{Err: err}
	}

	if len(msgs) > 0 {
		if _, err := s.AddMessages(ctx, conversationID, msgs); err != nil {
			return "", err
		}
	}
	return conversationID, nil
}

// ListConversations returns the IDs of all known conversations.
func (s *Ingestor) ListConversations(ctx context.Context) ([]string, error) {
	return s.conversations.ListConversations(ctx)
}

// AddMessages appends a batch of messages and re-chunks the conversation tail.
// Returns the assigned message IDs. Embedding happens after the write lock is
// released; an embedding outage leaves chunks pending but never fails the
// ingest.
func (s *Ingestor) AddMessages(ctx context.Context, conversationID string, msgs []core.Message) ([]int64, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}

	ids, err := s.appendAndRechunk(ctx, conversationID, msgs)
	if err != nil {
		return nil, err
	}

	s.EmbedPending(ctx, conversationID)
	return ids, nil
}

func (s *Ingestor) appendAndRechunk(ctx context.Context, conversationID string, msgs []core.Message) ([]int64, error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.conversations.ConversationExists(ctx, conversationID)
	if err != nil {
		return nil, &core.IngestionError{Err: err}
	}
	if !exists {
		return nil, core.ErrConversationNotFound
	}

	ids, err := s.conversations.AddMessages(ctx, conversationID, msgs)
	if err != nil {
		return nil, &core.IngestionError{Err: err}
	}

	if err := s.rechunk(ctx, conversationID); err != nil {
		return nil, err
	}
	return ids, nil
}

// rechunk recomputes the chunk list and persists the changed suffix. Chunk
// boundaries are deterministic, so the amount of work is proportional to the
// new tail, not the conversation length.
func (s *Ingestor) rechunk(ctx context.Context, conversationID string) error {
	messages, err := s.conversations.GetMessages(ctx, conversationID)
	if err != nil {
		return &core.IngestionError{Err: err}
	}

	prev, err := s.chunks.GetChunks(ctx, conversationID)
	if err != nil {
		return &core.IngestionError{Err: err}
	}

	next := chunker.Chunk(messages, prev, s.chunkCfg)

	from := firstChangedOrdinal(prev, next)
	if from == len(prev) && from == len(next) {
		return nil
	}

	if err := s.chunks.ReplaceChunksFrom(ctx, conversationID, from, next[from:]); err != nil {
		return &core.IngestionError{Err: err}
	}

	// Superseded vectors must not serve another search.
	for i := from; i < len(prev); i++ {
		s.index.Remove(conversationID, prev[i].ID)
	}

	s.cache.InvalidateConversation(conversationID)
	return nil
}

// EmbedPending embeds every pending chunk of a conversation, or of all
// conversations when conversationID is empty. Failures are logged and the
// chunks stay pending for the next sweep.
func (s *Ingestor) EmbedPending(ctx context.Context, conversationID string) {
	logger := log.FromCtx(ctx)

	pending, err := s.chunks.GetPendingChunks(ctx, conversationID, embedBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list pending chunks")
		return
	}

	touched := make(map[string]bool)
	for _, c := range pending {
		vec, err := s.embedChunk(ctx, c)
		if err != nil {
			logger.Warn().Err(&core.EmbeddingError{ChunkID: c.ID, Err: err}).
				Str("conversation_id", c.ConversationID).
				Msg("chunk left pending")
			continue
		}

		committed, err := s.commitEmbedding(ctx, c, vec)
		if err != nil {
			logger.Error().Err(err).Str("chunk_id", c.ID).Msg("failed to mark chunk embedded")
			continue
		}
		if !committed {
			logger.Debug().Str("chunk_id", c.ID).Msg("chunk superseded while embedding, vector discarded")
			continue
		}
		touched[c.ConversationID] = true
	}

	for conv := range touched {
		if err := s.index.Save(conv); err != nil {
			logger.Error().Err(err).Str("conversation_id", conv).Msg("failed to persist vector index")
		}
	}
}

// commitEmbedding publishes a freshly computed vector. The version-guarded
// state flip and the index upsert happen as one step under the conversation's
// write lock, so a re-chunk can never interleave between them: a chunk
// superseded while its embedding was in flight fails the version guard and
// its vector is discarded instead of clobbering the live ordinal.
func (s *Ingestor) commitEmbedding(ctx context.Context, c core.Chunk, vec []float32) (bool, error) {
	mu := s.lockFor(c.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	flipped, err := s.chunks.MarkChunkEmbedded(ctx, c.ID, c.Version)
	if err != nil || !flipped {
		return false, err
	}
	s.index.Upsert(c.ConversationID, c.ID, c.Ordinal, vec)
	return true, nil
}

func (s *Ingestor) embedChunk(ctx context.Context, c core.Chunk) ([]float32, error) {
	var vec []float32
	err := s.retrier.Do(ctx, func() error {
		var err error
		vec, err = s.embedder.Embed(ctx, c.Content)
		return err
	})
	return vec, err
}

func (s *Ingestor) lockFor(conversationID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func validateMessages(msgs []core.Message) error {
	if len(msgs) == 0 {
		return &core.IngestionError{Err: fmt.Errorf("empty message batch")}
	}
	for i, m := range msgs {
		if m.Author == "" {
			return &core.IngestionError{Err: fmt.Errorf("message %d: missing author", i)}
		}
		if m.Content == "" {
			return &core.IngestionError{Err: fmt.Errorf("message %d: missing content", i)}
		}
	}
	return nil
}

// firstChangedOrdinal finds the first position where the previous and next
// chunk lists diverge (by chunk identity, so version bumps count as changes).
func firstChangedOrdinal(prev, next []core.Chunk) int {
	i := 0
	for i < len(prev) && i < len(next) && prev[i].ID == next[i].ID {
		i++
	}
	return i
}
