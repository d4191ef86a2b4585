package core

import "context"

type ConversationRepository interface {
	CreateConversation(ctx context.Context, conversationID string) error
	ConversationExists(ctx context.Context, conversationID string) (bool, error)
	ListConversations(ctx context.Context) ([]string, error)
	AddMessages(ctx context.Context, conversationID string, msgs []Message) ([]int64, error)
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
}

type ChunkRepository interface {
	GetChunks(ctx context.Context, conversationID string) ([]Chunk, error)
	// ReplaceChunksFrom deletes all chunk rows with ordinal >= fromOrdinal and
	// inserts the given replacements in a single transaction.
	ReplaceChunksFrom(ctx context.Context, conversationID string, fromOrdinal int, chunks []Chunk) error
	// MarkChunkEmbedded flips a chunk to embedded only if its version still
	// matches, reporting whether the flip happened. A superseded chunk stays
	// pending and is never resurrected.
	MarkChunkEmbedded(ctx context.Context, chunkID string, version int) (bool, error)
	// GetPendingChunks lists chunks awaiting embedding. An empty
	// conversationID scans across all conversations.
	GetPendingChunks(ctx context.Context, conversationID string, limit int) ([]Chunk, error)
	// MarkConversationPending flips every chunk of a conversation back to
	// pending, forcing a full re-embed (used after index corruption).
	MarkConversationPending(ctx context.Context, conversationID string) error
}

type SummaryRepository interface {
	SaveSummary(ctx context.Context, s Summary) error
	GetLatestSummary(ctx context.Context, conversationID string) (*Summary, error)
}
