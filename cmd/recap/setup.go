package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sandevgo/recap/internal/cache"
	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/internal/index"
	"github.com/sandevgo/recap/internal/providers/openai"
	"github.com/sandevgo/recap/internal/service"
	"github.com/sandevgo/recap/internal/storage/sqlite"
	"github.com/sandevgo/recap/internal/transport/httpapi"
	"github.com/sandevgo/recap/pkg/log"
	"github.com/sandevgo/recap/pkg/srv"
)

const (
	summaryTemperature = 0.3
	draftTemperature   = 0.7
)

func NewServices(ctx context.Context) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)

	if err := initEnv(ctx, appCfg.RuntimePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	chunkerCfg := config.NewChunkerConfig(ctx)
	retrievalCfg := config.NewRetrievalConfig(ctx)
	openaiCfg := config.NewOpenAIConfig(ctx)

	// 2. Storage
	db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	services = append(services, srv.NewCleanup(db.Close))

	conversationsRepo := sqlite.NewConversationsRepo(db)
	chunksRepo := sqlite.NewChunksRepo(db)
	summariesRepo := sqlite.NewSummariesRepo(db)

	// 3. Vector index
	ix, err := index.New(appCfg.GetIndexPath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vector index")
	}

	corrupted, err := ix.LoadAll()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load vector indices")
	}
	for _, conversationID := range corrupted {
		logger.Warn().Str("conversation_id", conversationID).
			Msg("vector index corrupted, scheduling re-embed")
		if err := chunksRepo.MarkConversationPending(ctx, conversationID); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule re-embed")
		}
	}
	services = append(services, srv.NewCleanup(ix.SaveAll))

	// 4. Providers
	client := openai.NewClient(openaiCfg)

	// 5. Services
	c := cache.New()

	ingestor := service.NewIngestor(conversationsRepo, chunksRepo, client, ix, c, chunkerCfg)
	contexts := service.NewContextService(conversationsRepo, chunksRepo, client, ix, c, retrievalCfg)
	summarizer := service.NewSummarizer(
		contexts,
		summariesRepo,
		client.Completer(openaiCfg.SummaryModel, summaryTemperature),
		client.Completer(openaiCfg.DraftModel, draftTemperature),
		c,
		retrievalCfg,
	)

	services = append(services, service.NewBackfillWorker(ingestor))

	// 6. Transport
	services = append(services, httpapi.NewServer(ctx, appCfg.ListenAddr, ingestor, contexts, summarizer))

	return services
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
