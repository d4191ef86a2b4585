package chunker

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/internal/tokenizer"
)

type Config struct {
	MaxTokens       int
	MaxMessages     int
	OverlapMessages int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:       1000,
		MaxMessages:     50,
		OverlapMessages: 2,
	}
}

// Chunk splits an ordered message list into overlapping windows bounded by
// both a token ceiling and a message ceiling; whichever is reached first
// seals the window. OverlapMessages trailing messages of a sealed window are
// repeated at the start of the next one.
//
// Messages are append-only and boundaries are deterministic, so every
// previous chunk except the last is immutable: re-chunking restarts from the
// first message of the previous last chunk. Windows whose text is unchanged
// keep their chunk ID, version and embedding state; a changed window becomes
// a new chunk object with a bumped version in pending state.
func Chunk(messages []core.Message, prev []core.Chunk, cfg Config) []core.Chunk {
	if len(messages) == 0 {
		return nil
	}

	kept, startIdx := resumePoint(messages, prev, cfg)

	windows := buildWindows(messages[startIdx:], cfg)

	out := make([]core.Chunk, 0, len(kept)+len(windows))
	out = append(out, kept...)

	for i, w := range windows {
		ordinal := len(kept) + i
		out = append(out, reconcile(w, ordinal, prev, messages[0].ConversationID))
	}
	return out
}

// window is a contiguous run of messages forming one chunk.
type window struct {
	messages []core.Message
	tokens   int
}

func buildWindows(messages []core.Message, cfg Config) []window {
	var windows []window
	var current []core.Message
	currentTokens := 0

	seal := func() {
		if len(current) == 0 {
			return
		}
		windows = append(windows, window{messages: current, tokens: currentTokens})

		// Overlap: repeat the trailing messages of the sealed window,
		// clamped to its message count.
		overlap := cfg.OverlapMessages
		if overlap > len(current) {
			overlap = len(current)
		}
		tail := current[len(current)-overlap:]
		current = make([]core.Message, len(tail))
		copy(current, tail)
		currentTokens = 0
		for _, m := range current {
			currentTokens += tokenizer.Count(m.Content)
		}
	}

	for _, msg := range messages {
		msgTokens := tokenizer.Count(msg.Content)

		// A single message over the token ceiling becomes its own oversized
		// chunk; messages are never split.
		if msgTokens > cfg.MaxTokens {
			if len(current) > 0 {
				windows = append(windows, window{messages: current, tokens: currentTokens})
			}
			windows = append(windows, window{messages: []core.Message{msg}, tokens: msgTokens})
			current = nil
			currentTokens = 0
			continue
		}

		if len(current) > 0 &&
			(currentTokens+msgTokens > cfg.MaxTokens || len(current) >= cfg.MaxMessages) {
			seal()
			// Overlap alone may already fill the ceilings; seal again rather
			// than growing past them.
			for len(current) > 0 &&
				(currentTokens+msgTokens > cfg.MaxTokens || len(current) >= cfg.MaxMessages) {
				current = current[1:]
				currentTokens = 0
				for _, m := range current {
					currentTokens += tokenizer.Count(m.Content)
				}
			}
		}

		current = append(current, msg)
		currentTokens += msgTokens
	}

	if len(current) > 0 {
		windows = append(windows, window{messages: current, tokens: currentTokens})
	}
	return windows
}

// resumePoint returns the previous chunks that are known-immutable and the
// message index re-chunking restarts from.
func resumePoint(messages []core.Message, prev []core.Chunk, cfg Config) ([]core.Chunk, int) {
	if len(prev) == 0 {
		return nil, 0
	}

	last := prev[len(prev)-1]
	for i, m := range messages {
		if m.ID == last.StartMessageID {
			return prev[:len(prev)-1], i
		}
	}
	// Previous boundaries no longer line up with the message list (for
	// example after a config change); fall back to a full re-chunk.
	return nil, 0
}

func reconcile(w window, ordinal int, prev []core.Chunk, conversationID string) core.Chunk {
	content := renderWindow(w.messages)

	if ordinal < len(prev) && prev[ordinal].Content == content {
		return prev[ordinal]
	}

	version := 1
	if ordinal < len(prev) {
		version = prev[ordinal].Version + 1
	}

	return core.Chunk{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Ordinal:        ordinal,
		Version:        version,
		StartMessageID: w.messages[0].ID,
		EndMessageID:   w.messages[len(w.messages)-1].ID,
		Content:        content,
		TokenCount:     w.tokens,
		MessageCount:   len(w.messages),
		Authors:        collectAuthors(w.messages),
		State:          core.ChunkPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func renderWindow(messages []core.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Author+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

func collectAuthors(messages []core.Message) []string {
	seen := make(map[string]bool, len(messages))
	var authors []string
	for _, m := range messages {
		if !seen[m.Author] {
			seen[m.Author] = true
			authors = append(authors, m.Author)
		}
	}
	return authors
}
