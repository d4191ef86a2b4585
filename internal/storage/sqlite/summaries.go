package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandevgo/recap/internal/core"
)

type SummariesRepo struct {
	db *sql.DB
}

func NewSummariesRepo(db *sql.DB) *SummariesRepo {
	return &SummariesRepo{db: db}
}

func (r *SummariesRepo) SaveSummary(ctx context.Context, s core.Summary) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO summaries (conversation_id, query, content, token_count, source_fingerprint)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ConversationID, s.Query, s.Content, s.TokenCount, s.SourceFingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func (r *SummariesRepo) GetLatestSummary(ctx context.Context, conversationID string) (*core.Summary, error) {
	var s core.Summary
	err := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, query, content, token_count, source_fingerprint, created_at
		 FROM summaries
		 WHERE conversation_id = ? AND query = ''
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		conversationID,
	).Scan(&s.ID, &s.ConversationID, &s.Query, &s.Content, &s.TokenCount, &s.SourceFingerprint, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	return &s, nil
}
