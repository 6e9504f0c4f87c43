package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/infra/breaker"
	"ai-brand-monitor/internal/usecase"
)

type Server struct {
	triggerUC usecase.TriggerUseCase
	enqueueUC usecase.EnqueueUseCase
	jobUC     usecase.JobUseCase
	breakers  *breaker.Registry

	auth          *ServiceAuth
	triggerSecret string

	httpSrv *http.Server
	log     *zerolog.Logger
}

func NewServer(
	triggerUC usecase.TriggerUseCase,
	enqueueUC usecase.EnqueueUseCase,
	jobUC usecase.JobUseCase,
	breakers *breaker.Registry,
	auth *ServiceAuth,
	triggerSecret string,
	logger *zerolog.Logger,
) *Server {
	srvLog := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		triggerUC:     triggerUC,
		enqueueUC:     enqueueUC,
		jobUC:         jobUC,
		breakers:      breakers,
		auth:          auth,
		triggerSecret: triggerSecret,
		log:           &srvLog,
	}
}

// Handler builds the full route tree with the standard middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.healthHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.With(s.triggerGuard).Post("/daily-batch-trigger", s.triggerHandler())
		r.Post("/enqueue-optimizations", s.enqueueHandler())

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.jobGetHandler())
			r.Post("/cancel", s.jobCancelHandler())
			r.Post("/reclaim", s.jobReclaimHandler())
		})

		r.Get("/diagnostics/circuit-breakers", s.breakersHandler())
	})

	return Chain(r,
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(60*time.Second),
	)
}

// triggerGuard additionally requires the shared scheduler secret, so a
// leaked service token alone cannot fire the whole-fleet sweep.
func (s *Server) triggerGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.triggerSecret == "" || r.Header.Get("X-Trigger-Secret") != s.triggerSecret {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("Starting web server")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
