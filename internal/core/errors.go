package core

import (
	"errors"
	"fmt"
)

var ErrConversationNotFound = errors.New("conversation not found")

// IngestionError marks a failure on the source-of-truth path (malformed
// message, storage failure). Surfaced to the caller, not retried.
type IngestionError struct {
	Err error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed: %v", e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// EmbeddingError marks a failure of the external embedding call after
// retries. The affected chunk stays pending; ingestion is not blocked.
type EmbeddingError struct {
	ChunkID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding chunk %s failed: %v", e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexCorruptionError reports a vector/id-map count mismatch on index load.
// The shard must be dropped and the conversation re-embedded rather than
// serving wrong search results.
type IndexCorruptionError struct {
	ConversationID string
	Vectors        int
	Entries        int
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("vector index for conversation %s corrupted: %d vectors, %d entries",
		e.ConversationID, e.Vectors, e.Entries)
}
