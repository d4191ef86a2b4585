package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/recap/internal/cache"
	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/internal/index"
	"github.com/sandevgo/recap/pkg/retry"
)

func fastRetrier() *retry.Retrier {
	return retry.NewRetrier(&retry.Config{
		MaxRetries:    1,
		BackoffFactor: 1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
	})
}

type testStack struct {
	store    *memStore
	embedder *stubEmbedder
	index    *index.Index
	cache    *cache.Cache
	ingestor *Ingestor
	contexts *ContextService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	store := newMemStore()
	embedder := &stubEmbedder{}
	ix, err := index.New(t.TempDir())
	require.NoError(t, err)
	c := cache.New()

	chunkCfg := &config.ChunkerConfig{
		MaxChunkTokens:   1000,
		MaxChunkMessages: 2,
		OverlapMessages:  1,
	}
	retrievalCfg := &config.RetrievalConfig{
		TopK:             5,
		MaxContextTokens: 4000,
		CacheTTLSeconds:  3600,
	}

	ingestor := NewIngestor(store, store, embedder, ix, c, chunkCfg)
	ingestor.retrier = fastRetrier()

	contexts := NewContextService(store, store, embedder, ix, c, retrievalCfg)
	contexts.retrier = fastRetrier()

	return &testStack{
		store:    store,
		embedder: embedder,
		index:    ix,
		cache:    c,
		ingestor: ingestor,
		contexts: contexts,
	}
}

func msg(author, content string) core.Message {
	return core.Message{Author: author, Content: content}
}

func TestCreateConversationGeneratesID(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	id, err := st.ingestor.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	exists, err := st.store.ConversationExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateConversationWithInitialMessages(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	id, err := st.ingestor.CreateConversation(ctx, "team-chat", []core.Message{
		msg("alice", "hello"),
		msg("bob", "hi alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, "team-chat", id)

	chunks, err := st.store.GetChunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alice: hello\n\nbob: hi alice", chunks[0].Content)
	assert.Equal(t, core.ChunkEmbedded, chunks[0].State)
}

func TestAddMessagesUnknownConversation(t *testing.T) {
	st := newTestStack(t)

	_, err := st.ingestor.AddMessages(context.Background(), "nope", []core.Message{msg("alice", "hi")})
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestAddMessagesValidation(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		msgs []core.Message
	}{
		{"empty batch", nil},
		{"missing author", []core.Message{{Content: "hi"}}},
		{"missing content", []core.Message{{Author: "alice"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.ingestor.AddMessages(ctx, "c1", tt.msgs)
			var ingErr *core.IngestionError
			assert.True(t, errors.As(err, &ingErr), "expected IngestionError, got %v", err)
		})
	}
}

func TestIngestChunksAndEmbeds(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", nil)
	require.NoError(t, err)

	ids, err := st.ingestor.AddMessages(ctx, "c1", []core.Message{
		msg("alice", "one"),
		msg("bob", "two"),
		msg("carol", "three"),
		msg("alice", "four"),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	chunks, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, core.ChunkEmbedded, c.State)
	}
	assert.Equal(t, 3, st.index.Count("c1"))
}

func TestEmbedderOutageLeavesChunksPending(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", nil)
	require.NoError(t, err)

	st.embedder.setFail(true)

	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("alice", "hello")})
	require.NoError(t, err, "embedding outage must not fail the ingest")

	chunks, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkPending, chunks[0].State)
	assert.Equal(t, 0, st.index.Count("c1"))

	// Recovery: the next sweep picks the chunk up.
	st.embedder.setFail(false)
	st.ingestor.EmbedPending(ctx, "c1")

	chunks, err = st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, core.ChunkEmbedded, chunks[0].State)
	assert.Equal(t, 1, st.index.Count("c1"))
}

func TestIncrementalIngestSupersedesTail(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{msg("alice", "one")})
	require.NoError(t, err)

	before, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, core.ChunkEmbedded, before[0].State)

	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("bob", "two")})
	require.NoError(t, err)

	after, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, after, 1)

	// The open tail chunk was extended: new identity, bumped version,
	// re-embedded.
	assert.NotEqual(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].Version+1, after[0].Version)
	assert.Equal(t, core.ChunkEmbedded, after[0].State)

	// One live vector per ordinal: the superseded vector is gone.
	assert.Equal(t, 1, st.index.Count("c1"))
}

func TestIncrementalIngestKeepsSealedChunks(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "one"),
		msg("bob", "two"),
		msg("carol", "three"),
	})
	require.NoError(t, err)

	before, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, before, 2)

	embedCallsBefore := st.embedder.callCount()

	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("alice", "four")})
	require.NoError(t, err)

	after, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, after, 3)

	// Both previous windows reproduce identical text, so the existing chunks
	// survive untouched and only the new tail chunk is embedded.
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
	assert.Equal(t, core.ChunkEmbedded, after[2].State)
	assert.Equal(t, embedCallsBefore+1, st.embedder.callCount())
	assert.Equal(t, 3, st.index.Count("c1"))
}

func TestStalledEmbedCannotClobberSupersededOrdinal(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", nil)
	require.NoError(t, err)

	// Leave the first chunk pending so a later sweep has to pick it up.
	st.embedder.setFail(true)
	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("alice", "one")})
	require.NoError(t, err)
	st.embedder.setFail(false)

	gated := &gatedEmbedder{
		blockOn: "alice: one",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	st.ingestor.embedder = gated

	done := make(chan struct{})
	go func() {
		st.ingestor.EmbedPending(ctx, "c1")
		close(done)
	}()
	<-gated.started

	// Supersede the chunk while its embedding is still in flight. The new
	// chunk's text differs, so its embedding passes the gate.
	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("bob", "two")})
	require.NoError(t, err)

	close(gated.release)
	<-done

	chunks, err := st.store.GetChunks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	live := chunks[0]
	require.Equal(t, core.ChunkEmbedded, live.State)

	// The stalled sweep's vector was discarded: the live chunk's own vector
	// still owns the ordinal and search resolves to the live chunk.
	assert.Equal(t, 1, st.index.Count("c1"))
	hits := st.index.Search("c1", stubVector(live.Content), 1)
	require.Len(t, hits, 1)
	assert.Equal(t, live.ID, hits[0].ChunkID)
}

func TestIngestInvalidatesConversationCache(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{msg("alice", "hello")})
	require.NoError(t, err)

	st.cache.Put("conversation:c1:context:-:abc", "stale", time.Minute)
	st.cache.Put("conversation:c2:context:-:abc", "other", time.Minute)

	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("bob", "hi")})
	require.NoError(t, err)

	_, ok := st.cache.Get("conversation:c1:context:-:abc")
	assert.False(t, ok)
	_, ok = st.cache.Get("conversation:c2:context:-:abc")
	assert.True(t, ok)
}
