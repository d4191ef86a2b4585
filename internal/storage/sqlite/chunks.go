package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sandevgo/recap/internal/core"
)

type ChunksRepo struct {
	db *sql.DB
}

func NewChunksRepo(db *sql.DB) *ChunksRepo {
	return &ChunksRepo{db: db}
}

const chunkColumns = `id, conversation_id, ordinal, version, start_message_id, end_message_id,
	content, token_count, message_count, authors, state, created_at`

func (r *ChunksRepo) GetChunks(ctx context.Context, conversationID string) ([]core.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE conversation_id = ? ORDER BY ordinal`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (r *ChunksRepo) ReplaceChunksFrom(ctx context.Context, conversationID string, fromOrdinal int, chunks []core.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE conversation_id = ? AND ordinal >= ?`,
		conversationID, fromOrdinal,
	)
	if err != nil {
		return fmt.Errorf("failed to delete superseded chunks: %w", err)
	}

	for _, c := range chunks {
		authors, err := json.Marshal(c.Authors)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk authors: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ConversationID, c.Ordinal, c.Version, c.StartMessageID, c.EndMessageID,
			c.Content, c.TokenCount, c.MessageCount, string(authors), string(c.State), c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

func (r *ChunksRepo) MarkChunkEmbedded(ctx context.Context, chunkID string, version int) (bool, error) {
	// Version guard: a chunk superseded while its embedding was in flight
	// stays pending and is never resurrected.
	res, err := r.db.ExecContext(ctx,
		`UPDATE chunks SET state = ? WHERE id = ? AND version = ?`,
		string(core.ChunkEmbedded), chunkID, version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark chunk embedded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ChunksRepo) GetPendingChunks(ctx context.Context, conversationID string, limit int) ([]core.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE state = ?`
	args := []any{string(core.ChunkPending)}

	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY conversation_id, ordinal LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (r *ChunksRepo) MarkConversationPending(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chunks SET state = ? WHERE conversation_id = ?`,
		string(core.ChunkPending), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark conversation pending: %w", err)
	}
	return nil
}

func scanChunks(rows *sql.Rows) ([]core.Chunk, error) {
	var chunks []core.Chunk
	for rows.Next() {
		var c core.Chunk
		var authors, state string

		err := rows.Scan(&c.ID, &c.ConversationID, &c.Ordinal, &c.Version,
			&c.StartMessageID, &c.EndMessageID, &c.Content, &c.TokenCount,
			&c.MessageCount, &authors, &state, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		if authors != "" {
			if err := json.Unmarshal([]byte(authors), &c.Authors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunk authors: %w", err)
			}
		}
		c.State = core.ChunkState(state)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
