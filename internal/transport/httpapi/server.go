package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sandevgo/recap/internal/service"
	"github.com/sandevgo/recap/pkg/log"
)

// Server exposes the ingestion and retrieval pipeline over HTTP. It plugs
// into the service lifecycle: Start blocks until shutdown.
type Server struct {
	httpServer *http.Server
}

func NewServer(
	ctx context.Context,
	addr string,
	ingestor *service.Ingestor,
	contexts *service.ContextService,
	summarizer *service.Summarizer,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewRouter(ctx, ingestor, contexts, summarizer),
		},
	}
}

// NewRouter wires all routes and middleware.
func NewRouter(
	ctx context.Context,
	ingestor *service.Ingestor,
	contexts *service.ContextService,
	summarizer *service.Summarizer,
) http.Handler {
	h := &handler{
		ingestor:   ingestor,
		contexts:   contexts,
		summarizer: summarizer,
	}

	logger := log.FromCtx(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Requests carry the application logger so handlers can log through
	// the usual context path.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logger.WithContext(req.Context())))
		})
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", h.health)

	r.Route("/api", func(api chi.Router) {
		api.Post("/conversations", h.createConversation)
		api.Get("/conversations", h.listConversations)
		api.Post("/conversations/{id}/messages", h.addMessages)
		api.Get("/conversations/{id}/context", h.getContext)
		api.Get("/conversations/{id}/summary", h.getSummary)
		api.Post("/draft", h.draft)
	})

	return r
}

func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.FromCtx(ctx).Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
