package service

import (
	"context"
	"time"

	"github.com/sandevgo/recap/pkg/log"
)

const backfillPollInterval = 15 * time.Second

// BackfillWorker periodically sweeps for pending chunks across all
// conversations and embeds them. It catches chunks left behind by embedding
// outages during ingestion and conversations reset after index corruption.
type BackfillWorker struct {
	ingestor *Ingestor
	interval time.Duration
}

func NewBackfillWorker(ingestor *Ingestor) *BackfillWorker {
	return &BackfillWorker{
		ingestor: ingestor,
		interval: backfillPollInterval,
	}
}

func (w *BackfillWorker) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx).With().Str("component", "backfill_worker").Logger()
	logger.Info().Msg("starting embedding backfill worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down embedding backfill worker")
			return nil
		case <-ticker.C:
			w.ingestor.EmbedPending(ctx, "")
		}
	}
}

func (w *BackfillWorker) Shutdown(ctx context.Context) error {
	return nil
}
