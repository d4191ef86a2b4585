package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/pkg/log"
)

type ConversationsRepo struct {
	db *sql.DB
}

func NewConversationsRepo(db *sql.DB) *ConversationsRepo {
	return &ConversationsRepo{db: db}
}

func (r *ConversationsRepo) CreateConversation(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id) VALUES (?) ON CONFLICT (id) DO NOTHING`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (r *ConversationsRepo) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query conversation: %w", err)
	}
	return true, nil
}

func (r *ConversationsRepo) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ConversationsRepo) AddMessages(ctx context.Context, conversationID string, msgs []core.Message) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		metadata := ""
		if len(msg.Metadata) > 0 {
			data, err := json.Marshal(msg.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
			}
			metadata = string(data)
		}

		var ts sql.NullTime
		if msg.Timestamp != nil {
			ts = sql.NullTime{Time: msg.Timestamp.UTC(), Valid: true}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, author, content, ts, metadata) VALUES (?, ?, ?, ?, ?)`,
			conversationID, msg.Author, msg.Content, ts, metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Debug().
		Str("conversation_id", conversationID).
		Int("count", len(ids)).
		Msg("stored messages")
	return ids, nil
}

func (r *ConversationsRepo) GetMessages(ctx context.Context, conversationID string) ([]core.Message, error) {
	// Ordering: timestamp when present, insertion sequence otherwise.
	query := `
		SELECT id, conversation_id, author, content, ts, metadata
		FROM messages
		WHERE conversation_id = ?
		ORDER BY COALESCE(ts, created_at), id`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		var msg core.Message
		var ts sql.NullTime
		var metadata sql.NullString

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Author, &msg.Content, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if ts.Valid {
			t := ts.Time
			msg.Timestamp = &t
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
