package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sandevgo/recap/internal/core"
)

// memStore is an in-memory implementation of the repository interfaces used
// across the service tests.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]bool
	messages      map[string][]core.Message
	chunks        map[string][]core.Chunk
	summaries     map[string][]core.Summary
	nextMessageID int64
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]bool),
		messages:      make(map[string][]core.Message),
		chunks:        make(map[string][]core.Chunk),
		summaries:     make(map[string][]core.Summary),
	}
}

func (s *memStore) CreateConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = true
	return nil
}

func (s *memStore) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[conversationID], nil
}

func (s *memStore) ListConversations(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) AddMessages(ctx context.Context, conversationID string, msgs []core.Message) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		s.nextMessageID++
		m.ID = s.nextMessageID
		m.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], m)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *memStore) GetMessages(ctx context.Context, conversationID string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *memStore) GetChunks(ctx context.Context, conversationID string) ([]core.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Chunk, len(s.chunks[conversationID]))
	copy(out, s.chunks[conversationID])
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *memStore) ReplaceChunksFrom(ctx context.Context, conversationID string, fromOrdinal int, chunks []core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []core.Chunk
	for _, c := range s.chunks[conversationID] {
		if c.Ordinal < fromOrdinal {
			kept = append(kept, c)
		}
	}
	s.chunks[conversationID] = append(kept, chunks...)
	return nil
}

func (s *memStore) MarkChunkEmbedded(ctx context.Context, chunkID string, version int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conv, chunks := range s.chunks {
		for i, c := range chunks {
			if c.ID == chunkID && c.Version == version {
				s.chunks[conv][i].State = core.ChunkEmbedded
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *memStore) GetPendingChunks(ctx context.Context, conversationID string, limit int) ([]core.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Chunk
	for conv, chunks := range s.chunks {
		if conversationID != "" && conv != conversationID {
			continue
		}
		for _, c := range chunks {
			if c.State == core.ChunkPending {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkConversationPending(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chunks[conversationID] {
		s.chunks[conversationID][i].State = core.ChunkPending
	}
	return nil
}

func (s *memStore) SaveSummary(ctx context.Context, sum core.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.ID = int64(len(s.summaries[sum.ConversationID]) + 1)
	s.summaries[sum.ConversationID] = append(s.summaries[sum.ConversationID], sum)
	return nil
}

func (s *memStore) GetLatestSummary(ctx context.Context, conversationID string) (*core.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.summaries[conversationID]
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].Query == "" {
			out := stored[i]
			return &out, nil
		}
	}
	return nil, nil
}

// stubVector derives a deterministic vector from text, so tests can predict
// what a given chunk's embedding looks like.
func stubVector(text string) []float32 {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r%31) / 31
	}
	return vec
}

// stubEmbedder produces deterministic vectors from the text content. Flip
// fail to simulate an embedding outage.
type stubEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return nil, fmt.Errorf("embedder unavailable")
	}
	return stubVector(text), nil
}

// gatedEmbedder stalls the embedding of one specific text until released,
// letting tests interleave other work while that call is in flight.
type gatedEmbedder struct {
	blockOn string
	started chan struct{}
	release chan struct{}
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == e.blockOn {
		e.started <- struct{}{}
		<-e.release
	}
	return stubVector(text), nil
}

func (e *stubEmbedder) setFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

func (e *stubEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubCompleter records prompts and replies with a canned response.
type stubCompleter struct {
	mu       sync.Mutex
	response string
	fail     bool
	systems  []string
	users    []string
}

func (c *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", fmt.Errorf("completion unavailable")
	}
	c.systems = append(c.systems, systemPrompt)
	c.users = append(c.users, userPrompt)
	return c.response, nil
}

func (c *stubCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *stubCompleter) lastUserPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.users) == 0 {
		return ""
	}
	return c.users[len(c.users)-1]
}
