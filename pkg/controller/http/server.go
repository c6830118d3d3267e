package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// Poller runs one acknowledgment poll cycle on demand
type Poller interface {
	RunOnce(ctx context.Context) (*worker.CycleResult, error)
}

type Server struct {
	router   *chi.Mux
	uc       *usecase.UseCases
	poller   Poller
	apiToken string
}

type Options func(*Server)

// WithPoller exposes POST /api/poll
func WithPoller(p Poller) Options {
	return func(s *Server) {
		s.poller = p
	}
}

// WithAPIToken requires "Authorization: Bearer <token>" on every /api request
func WithAPIToken(token string) Options {
	return func(s *Server) {
		s.apiToken = token
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		uc:     uc,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if s.apiToken != "" {
			r.Use(tokenMiddleware(s.apiToken))
		}

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", s.createCase)
			r.Get("/", s.listCases)

			r.Route("/{caseID}", func(r chi.Router) {
				r.Get("/", s.getCase)
				r.Put("/", s.updateCase)
				r.Get("/xml", s.caseXML)
				r.Get("/history", s.caseHistory)
				r.Get("/attempts", s.caseAttempts)
				r.Get("/chain", s.caseChain)

				r.Post("/validate", s.validateCase)
				r.Post("/ready", s.markReady)
				r.Post("/export", s.exportCase)
				r.Post("/submit", s.submitCase)
				r.Post("/cancel", s.cancelCaseSubmission)
				r.Post("/return-to-draft", s.returnToDraft)
				r.Post("/poll", s.pollCase)
				r.Post("/acknowledgment", s.recordCaseAcknowledgment)
				r.Post("/followups", s.createFollowUp)
				r.Post("/nullify", s.nullifyCase)
			})
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.createBatch)
			r.Get("/", s.listBatches)

			r.Route("/{batchID}", func(r chi.Router) {
				r.Get("/", s.getBatch)
				r.Delete("/", s.deleteBatch)
				r.Get("/cases", s.batchCases)
				r.Post("/cases", s.addBatchCase)
				r.Delete("/cases/{caseID}", s.removeBatchCase)
				r.Get("/history", s.batchHistory)
				r.Get("/attempts", s.batchAttempts)

				r.Post("/validate", s.validateBatch)
				r.Post("/export", s.exportBatch)
				r.Post("/submit", s.submitBatch)
				r.Post("/cancel", s.cancelBatchSubmission)
				r.Post("/poll", s.pollBatch)
				r.Post("/acknowledgment", s.recordBatchAcknowledgment)
			})
		})

		if s.poller != nil {
			r.Post("/poll", s.runPoll)
		}
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.Default().Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) runPoll(w http.ResponseWriter, r *http.Request) {
	result, err := s.poller.RunOnce(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, result)
}
