package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sandevgo/recap/internal/core"
)

type entry struct {
	ChunkID string
	Ordinal int
	Vector  []float32
}

// persistedShard is the on-disk layout. Count duplicates len(Entries) so a
// truncated or corrupted file is detected on load instead of silently
// serving wrong search results.
type persistedShard struct {
	Count   int
	Entries []entry
}

type shard struct {
	mu      sync.RWMutex
	entries []entry
}

// Index stores chunk vectors partitioned by conversation. Each conversation
// owns an independent shard, so operations on one conversation never scan or
// lock another's.
type Index struct {
	mu     sync.RWMutex
	dir    string
	shards map[string]*shard
}

func New(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &Index{
		dir:    dir,
		shards: make(map[string]*shard),
	}, nil
}

func (ix *Index) shardFor(conversationID string, create bool) *shard {
	ix.mu.RLock()
	s, ok := ix.shards[conversationID]
	ix.mu.RUnlock()
	if ok || !create {
		return s
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if s, ok = ix.shards[conversationID]; ok {
		return s
	}
	s = &shard{}
	ix.shards[conversationID] = s
	return s
}

// Upsert inserts a vector for a chunk, replacing any vector previously held
// for the same ordinal in the same step. There is no window where both the
// old and the new version are searchable.
func (ix *Index) Upsert(conversationID, chunkID string, ordinal int, vec []float32) {
	s := ix.shardFor(conversationID, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Ordinal != ordinal {
			kept = append(kept, e)
		}
	}
	s.entries = append(kept, entry{ChunkID: chunkID, Ordinal: ordinal, Vector: vec})
}

// Search returns up to k hits ordered by descending cosine similarity; ties
// prefer the more recent chunk (larger ordinal).
func (ix *Index) Search(conversationID string, query []float32, k int) []core.ScoredChunk {
	s := ix.shardFor(conversationID, false)
	if s == nil || k <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]core.ScoredChunk, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, core.ScoredChunk{
			ChunkID: e.ChunkID,
			Ordinal: e.Ordinal,
			Score:   cosine(query, e.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Ordinal > results[j].Ordinal
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (ix *Index) Remove(conversationID, chunkID string) {
	s := ix.shardFor(conversationID, false)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ChunkID != chunkID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Drop discards a conversation's shard in memory and on disk.
func (ix *Index) Drop(conversationID string) {
	ix.mu.Lock()
	delete(ix.shards, conversationID)
	ix.mu.Unlock()

	os.Remove(ix.shardPath(conversationID))
}

// Count reports the number of live vectors for a conversation.
func (ix *Index) Count(conversationID string) int {
	s := ix.shardFor(conversationID, false)
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Save persists a conversation's shard. The write goes through a temp file
// and rename so a crash never leaves a half-written shard behind.
func (ix *Index) Save(conversationID string) error {
	s := ix.shardFor(conversationID, false)
	if s == nil {
		return nil
	}

	s.mu.RLock()
	p := persistedShard{Count: len(s.entries), Entries: append([]entry(nil), s.entries...)}
	s.mu.RUnlock()

	path := ix.shardPath(conversationID)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create shard file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode shard: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close shard file: %w", err)
	}
	return os.Rename(tmp, path)
}

// SaveAll persists every in-memory shard.
func (ix *Index) SaveAll() error {
	ix.mu.RLock()
	ids := make([]string, 0, len(ix.shards))
	for id := range ix.shards {
		ids = append(ids, id)
	}
	ix.mu.RUnlock()

	for _, id := range ids {
		if err := ix.Save(id); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a conversation's shard from disk. A count mismatch returns
// core.IndexCorruptionError; the caller drops the shard and re-embeds the
// conversation.
func (ix *Index) Load(conversationID string) error {
	f, err := os.Open(ix.shardPath(conversationID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open shard file: %w", err)
	}
	defer f.Close()

	var p persistedShard
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return &core.IndexCorruptionError{ConversationID: conversationID, Vectors: 0, Entries: p.Count}
	}
	if p.Count != len(p.Entries) {
		return &core.IndexCorruptionError{ConversationID: conversationID, Vectors: len(p.Entries), Entries: p.Count}
	}

	s := ix.shardFor(conversationID, true)
	s.mu.Lock()
	s.entries = p.Entries
	s.mu.Unlock()
	return nil
}

// LoadAll restores every shard found in the index directory and returns the
// IDs of conversations whose shards were corrupted (and dropped).
func (ix *Index) LoadAll() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(ix.dir, "*"+shardExt))
	if err != nil {
		return nil, err
	}

	var corrupted []string
	for _, path := range matches {
		conversationID := shardID(path)
		if err := ix.Load(conversationID); err != nil {
			var corr *core.IndexCorruptionError
			if errors.As(err, &corr) {
				ix.Drop(conversationID)
				corrupted = append(corrupted, conversationID)
				continue
			}
			return corrupted, err
		}
	}
	return corrupted, nil
}

const shardExt = ".idx"

func (ix *Index) shardPath(conversationID string) string {
	return filepath.Join(ix.dir, conversationID+shardExt)
}

func shardID(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(shardExt)]
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
