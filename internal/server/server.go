// Package server is the mnemo HTTP API: message ingestion, recall,
// inspection and manual job triggers, all under /api.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mnemo-labs/mnemo/internal/cadence"
	"github.com/mnemo-labs/mnemo/internal/engine"
	"github.com/mnemo-labs/mnemo/internal/queue"
	"github.com/mnemo-labs/mnemo/internal/recall"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

// Server is the mnemo HTTP API server.
type Server struct {
	store   store.Store
	engine  *engine.Engine
	queue   *queue.Queue
	recall  *recall.Service
	cadence *cadence.Tracker
	topics  *topics.Tracker
	limiter *rate.Limiter
	router  chi.Router
	version string
	started time.Time
}

// Options configures a Server.
type Options struct {
	Store   store.Store
	Engine  *engine.Engine
	Queue   *queue.Queue
	Recall  *recall.Service
	Cadence *cadence.Tracker
	Topics  *topics.Tracker
	Version string
	// RatePerSec limits message ingestion. 0 disables the limiter.
	RatePerSec float64
	RateBurst  int
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		store:   opts.Store,
		engine:  opts.Engine,
		queue:   opts.Queue,
		recall:  opts.Recall,
		cadence: opts.Cadence,
		topics:  opts.Topics,
		version: opts.Version,
		started: time.Now(),
	}
	if opts.RatePerSec > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RatePerSec)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/messages", s.handleIngest)
		r.Get("/recall", s.handleRecall)

		r.Get("/memories", s.handleListMemories)
		r.Get("/memories/{memoryID}", s.handleGetMemory)
		r.Get("/audits", s.handleListAudits)
		r.Get("/topics", s.handleTopics)

		r.Post("/jobs/audit", s.handleTriggerAudit)
		r.Post("/jobs/retention", s.handleTriggerRetention)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.store.Ping() == nil

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lastRet, lastRetAt := s.engine.LastRetention()
	m := map[string]any{
		"uptime":          time.Since(s.started).Seconds(),
		"memories":        stats,
		"queueDepth":      s.queue.Depth(),
		"queueRejected":   s.queue.Rejected(),
		"queueProcessed":  s.queue.Processed(),
		"queueFailed":     s.queue.Failed(),
		"pendingWindows":  s.engine.PendingWindows(),
		"lastRetention":   lastRet,
		"lastRetentionAt": lastRetAt.UnixMilli(),
	}
	if s.cadence != nil {
		m["activeCadenceThreads"] = s.cadence.ActiveThreads()
	}
	if s.topics != nil {
		m["activeTopics"] = s.topics.Count()
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
