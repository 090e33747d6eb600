package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-labs/mnemo/internal/engine"
	"github.com/mnemo-labs/mnemo/internal/recall"
	"github.com/mnemo-labs/mnemo/internal/store"
)

// handleIngest accepts one message event and returns 202 immediately.
// All memory work happens in the background; ingestion never waits on
// scoring, redaction or storage.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var ev engine.MessageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if ev.UserID == "" || ev.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "userId and threadId required")
		return
	}

	s.engine.Ingest(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleRecall answers GET /api/recall?userId=&threadId=&maxItems=&deadlineMs=.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId parameter required")
		return
	}

	q := recall.Query{
		UserID:   userID,
		ThreadID: r.URL.Query().Get("threadId"),
	}
	if v := r.URL.Query().Get("maxItems"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.MaxItems = n
		}
	}
	if v := r.URL.Query().Get("deadlineMs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Deadline = time.Duration(n) * time.Millisecond
		}
	}

	res, err := s.recall.Recall(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId parameter required")
		return
	}
	opts := store.ListOptions{
		UserID:   userID,
		ThreadID: r.URL.Query().Get("threadId"),
	}
	if v := r.URL.Query().Get("includeDeleted"); v == "true" || v == "1" {
		opts.IncludeDeleted = true
	}
	if v := r.URL.Query().Get("minPriority"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MinPriority = f
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Offset = n
		}
	}

	memories, err := s.store.ListMemories(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories": memories,
		"count":    len(memories),
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "memoryID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	m, err := s.store.GetMemory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId parameter required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	audits, err := s.store.ListAuditRecords(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audits": audits,
		"count":  len(audits),
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("threadId")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "threadId parameter required")
		return
	}
	if s.topics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"topics": []any{}, "count": 0})
		return
	}
	list := s.topics.Topics(threadID)
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": list,
		"count":  len(list),
	})
}

// handleTriggerAudit force-queues an audit for one thread, bypassing
// cadence thresholds. Returns 202; the audit runs in the background.
func (s *Server) handleTriggerAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		ThreadID string `json:"threadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "userId and threadId required")
		return
	}

	if !s.engine.EnqueueAudit(req.UserID, req.ThreadID) {
		writeError(w, http.StatusServiceUnavailable, "queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleTriggerRetention force-queues a retention pass. Returns 202.
func (s *Server) handleTriggerRetention(w http.ResponseWriter, r *http.Request) {
	if !s.engine.EnqueueRetention() {
		writeError(w, http.StatusServiceUnavailable, "queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
