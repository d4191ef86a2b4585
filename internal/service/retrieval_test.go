package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/recap/internal/core"
)

func TestGetContextUnknownConversation(t *testing.T) {
	st := newTestStack(t)

	_, err := st.contexts.GetContext(context.Background(), "nope", "", false)
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestGetContextEmptyConversation(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", nil)
	require.NoError(t, err)

	res, err := st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)
	assert.Empty(t, res.Context)
	assert.Zero(t, res.TokenCount)
	assert.False(t, res.UsedCache)
}

func TestGetContextChronological(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "one"),
		msg("bob", "two"),
		msg("carol", "three"),
		msg("alice", "four"),
	})
	require.NoError(t, err)

	res, err := st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)

	want := strings.Join([]string{
		"alice: one\n\nbob: two",
		"bob: two\n\ncarol: three",
		"carol: three\n\nalice: four",
	}, contextSeparator)
	assert.Equal(t, want, res.Context)
	assert.Positive(t, res.TokenCount)
	assert.False(t, res.UsedCache)
}

func TestGetContextCacheHitIsByteIdentical(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "hello"),
		msg("bob", "hi"),
	})
	require.NoError(t, err)

	first, err := st.contexts.GetContext(ctx, "c1", "greetings", false)
	require.NoError(t, err)
	require.False(t, first.UsedCache)

	second, err := st.contexts.GetContext(ctx, "c1", "greetings", false)
	require.NoError(t, err)
	assert.True(t, second.UsedCache)
	assert.Equal(t, first.Context, second.Context)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestGetContextCacheKeyChangesAfterIngest(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{msg("alice", "hello")})
	require.NoError(t, err)

	first, err := st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)

	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("bob", "news")})
	require.NoError(t, err)

	second, err := st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)

	// New messages change the fingerprint, so the old cache entry is
	// unreachable and fresh context is assembled.
	assert.False(t, second.UsedCache)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Contains(t, second.Context, "bob: news")
}

func TestGetContextForceRefreshBypassesCache(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{msg("alice", "hello")})
	require.NoError(t, err)

	_, err = st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)

	res, err := st.contexts.GetContext(ctx, "c1", "", true)
	require.NoError(t, err)
	assert.False(t, res.UsedCache)
}

func TestGetContextEmbedderOutageFallsBackToRecent(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "one"),
		msg("bob", "two"),
		msg("carol", "three"),
	})
	require.NoError(t, err)

	baseline, err := st.contexts.GetContext(ctx, "c1", "", false)
	require.NoError(t, err)

	st.embedder.setFail(true)

	res, err := st.contexts.GetContext(ctx, "c1", "what happened", false)
	require.NoError(t, err, "embedder outage must degrade, not fail")
	assert.Equal(t, baseline.Context, res.Context)
}

func TestGetContextQueryUsesSemanticSearch(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "the deploy failed on friday"),
		msg("bob", "rollback is done"),
		msg("carol", "lunch plans anyone"),
		msg("dave", "pizza sounds good"),
	})
	require.NoError(t, err)

	res, err := st.contexts.GetContext(ctx, "c1", "deploy status", false)
	require.NoError(t, err)

	// Every embedded chunk fits within TopK, so all conversation text is
	// available, ordered chronologically.
	assert.Contains(t, res.Context, "deploy failed")
	first := strings.Index(res.Context, "alice: the deploy failed")
	last := strings.Index(res.Context, "dave: pizza")
	assert.GreaterOrEqual(t, first, 0)
	assert.Greater(t, last, first)
}

func TestGetContextSkipsPendingChunksInSearchButStillServesThem(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	_, err := st.ingestor.CreateConversation(ctx, "c1", []core.Message{
		msg("alice", "one"),
		msg("bob", "two"),
		msg("carol", "three"),
	})
	require.NoError(t, err)

	// New tail arrives while the embedder is down: its chunk stays pending
	// and is invisible to the index.
	st.embedder.setFail(true)
	_, err = st.ingestor.AddMessages(ctx, "c1", []core.Message{msg("dave", "four")})
	require.NoError(t, err)
	st.embedder.setFail(false)

	res, err := st.contexts.GetContext(ctx, "c1", "anything", false)
	require.NoError(t, err)

	// The recent-chunk top-up carries the pending tail into the context.
	assert.Contains(t, res.Context, "dave: four")
}
