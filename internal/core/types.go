package core

import "time"

// ChunkState tracks the embedding lifecycle of a chunk. A chunk never moves
// back from embedded once its version is superseded; the re-chunk creates a
// new chunk object in pending state instead.
type ChunkState string

const (
	ChunkPending  ChunkState = "pending"
	ChunkEmbedded ChunkState = "embedded"
)

// Message is an immutable, already-normalized chat message. Ordering is by
// timestamp when present, otherwise by insertion sequence (the row ID).
type Message struct {
	ID             int64             `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Author         string            `json:"author"`
	Content        string            `json:"content"`
	Timestamp      *time.Time        `json:"timestamp,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Chunk is a contiguous, overlapping window over a conversation's messages.
// Version increments whenever the underlying text changes.
type Chunk struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Ordinal        int        `json:"ordinal"`
	Version        int        `json:"version"`
	StartMessageID int64      `json:"start_message_id"`
	EndMessageID   int64      `json:"end_message_id"`
	Content        string     `json:"content"`
	TokenCount     int        `json:"token_count"`
	MessageCount   int        `json:"message_count"`
	Authors        []string   `json:"authors"`
	State          ChunkState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ScoredChunk is a vector search hit. Higher score means closer.
type ScoredChunk struct {
	ChunkID string
	Ordinal int
	Score   float32
}

// ContextResult is the assembled context for a conversation.
type ContextResult struct {
	Context     string `json:"context"`
	TokenCount  int    `json:"context_size"`
	Fingerprint string `json:"-"`
	UsedCache   bool   `json:"used_cache"`
}

// Summary is a generated conversation summary bound to the chunk-version set
// it was produced from.
type Summary struct {
	ID                int64     `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Query             string    `json:"query,omitempty"`
	Content           string    `json:"content"`
	TokenCount        int       `json:"token_count"`
	SourceFingerprint string    `json:"source_fingerprint"`
	CreatedAt         time.Time `json:"created_at"`
}
