package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vnmchuo/crypto-bench/internal/results"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

// Run describes the evaluation being served.
type Run struct {
	ID        string
	Dataset   string
	Model     string
	Provider  string
	Items     int
	StartedAt time.Time
}

type Snapshotter interface {
	Snapshot(key ratelimit.Key) ratelimit.State
}

// Server exposes read-only progress of a run in flight.
type Server struct {
	run     Run
	summary *results.Summary
	limiter Snapshotter
	breaker func(provider string) string
	now     func() time.Time
}

func NewServer(run Run, summary *results.Summary, limiter Snapshotter, breaker func(string) string) *Server {
	return &Server{
		run:     run,
		summary: summary,
		limiter: limiter,
		breaker: breaker,
		now:     time.Now,
	}
}

type rateLimitView struct {
	InWindow     int        `json:"in_window"`
	LastCall     *time.Time `json:"last_call,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

type progressResponse struct {
	RunID     string         `json:"run_id"`
	Dataset   string         `json:"dataset"`
	Model     string         `json:"model"`
	Provider  string         `json:"provider"`
	Items     int            `json:"items"`
	Done      int            `json:"done"`
	Elapsed   string         `json:"elapsed"`
	Totals    results.Totals `json:"totals"`
	Breaker   string         `json:"breaker,omitempty"`
	RateLimit rateLimitView  `json:"rate_limit"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "crypto-bench"})
	})
	r.Get("/v1/progress", s.HandleProgress)
	return r
}

func (s *Server) HandleProgress(w http.ResponseWriter, r *http.Request) {
	totals := s.summary.Totals()
	resp := progressResponse{
		RunID:    s.run.ID,
		Dataset:  s.run.Dataset,
		Model:    s.run.Model,
		Provider: s.run.Provider,
		Items:    s.run.Items,
		Done:     totals.Total,
		Totals:   totals,
	}
	if !s.run.StartedAt.IsZero() {
		resp.Elapsed = s.now().Sub(s.run.StartedAt).Round(time.Second).String()
	}
	if s.breaker != nil {
		resp.Breaker = s.breaker(s.run.Provider)
	}
	if s.limiter != nil {
		st := s.limiter.Snapshot(ratelimit.Key{Provider: s.run.Provider, Model: s.run.Model})
		resp.RateLimit.InWindow = st.InWindow
		if !st.LastCall.IsZero() {
			resp.RateLimit.LastCall = &st.LastCall
		}
		if st.BlockedUntil.After(s.now()) {
			resp.RateLimit.BlockedUntil = &st.BlockedUntil
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[status] forced shutdown: %v", err)
		}
	}()

	log.Printf("[status] serving progress on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
