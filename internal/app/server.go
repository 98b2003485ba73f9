package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/api/handlers"
	"github.com/markdave123-py/pdfchat/internal/config"
)

type Handlers struct {
	Documents *handlers.DocumentHandler
	Chat      *handlers.ChatHandler
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

// requestTimeout bounds every route except the chat stream.
func requestTimeout(cfg *config.Config) time.Duration {
	d := cfg.EmbedTimeout + cfg.IndexTimeout + cfg.LLMTimeout + 10*time.Second
	if d < 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// NewRouter wires all routes.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	// SSE responses stay open as long as the model keeps talking
	r.Get("/chat/stream", h.Chat.Stream)

	r.Group(func(bounded chi.Router) {
		bounded.Use(middleware.Timeout(requestTimeout(cfg)))

		bounded.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"All Good!"}`))
		})

		bounded.Post("/upload/pdfs", h.Documents.UploadPDFs)
		bounded.Post("/upload/pdf", h.Documents.UploadPDF)
		bounded.Get("/file-status", h.Documents.FileStatus)
		bounded.Post("/complete-job", h.Documents.CompleteJob)

		bounded.Get("/chat", h.Chat.Query)
	})

	return r
}

func NewServer(cfg *config.Config, handler http.Handler, logger *log.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
