// Package httpapi wires the external interfaces named in spec §6 onto
// a chi router: MJPEG streaming, pause/status, source listing, the SSE
// motion channel, and motion history.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"camfeed/internal/auth"
	"camfeed/internal/sse"
	"camfeed/internal/store"
	"camfeed/internal/streammgr"
)

const mjpegBoundary = "mjpegBoundary"

// defaultPauseDuration is spec §6's fixed pause duration.
const defaultPauseDuration = 5 * time.Minute

// Server holds every dependency the HTTP surface needs.
type Server struct {
	streams     *streammgr.Manager
	auth        *auth.PauseAuthenticator
	broadcaster *sse.Broadcaster
	history     *store.Store
	logger      *log.Logger
}

// New builds a Server. history may be nil if motion history
// persistence is disabled.
func New(streams *streammgr.Manager, authenticator *auth.PauseAuthenticator, broadcaster *sse.Broadcaster, history *store.Store, logger *log.Logger) *Server {
	return &Server{streams: streams, auth: authenticator, broadcaster: broadcaster, history: history, logger: logger}
}

// Router builds the chi router implementing spec §6's endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleListSources)
		r.Get("/events/motion", s.broadcaster.ServeHTTP)
		r.Get("/motion/history", s.handleMotionHistory)

		r.Route("/stream/{sourceId}", func(r chi.Router) {
			r.Get("/", s.handleStream)
			r.Post("/pause", s.handlePause)
			r.Get("/status", s.handleStatus)
		})
	})

	return r
}

// errorEnvelope is the {success:false, ...} JSON shape spec §6 uses
// for every error response.
type errorEnvelope struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	Message         string   `json:"message,omitempty"`
	AvailableSources []string `json:"availableSources,omitempty"`
}

func (s *Server) writeUnknownSource(w http.ResponseWriter, sourceID string) {
	summaries := s.streams.ListSources()
	ids := make([]string, 0, len(summaries))
	for _, src := range summaries {
		ids = append(ids, src.ID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(errorEnvelope{
		Success:          false,
		Message:          fmt.Sprintf("unknown source %q", sourceID),
		AvailableSources: ids,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, errStr string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: errStr})
}

// handleStream serves GET /api/stream/{sourceId} as a multipart/
// x-mixed-replace MJPEG response (spec §6).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	proxy, err := s.streams.GetProxy(sourceID)
	if err != nil {
		s.writeUnknownSource(w, sourceID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	viewer := proxy.AddViewer()
	defer proxy.RemoveViewer(viewer.ID)

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-viewer.Frames():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", mjpegBoundary); err != nil {
				f.Release()
				return
			}
			if _, err := w.Write(f.Bytes()); err != nil {
				f.Release()
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				f.Release()
				return
			}
			f.Release()
			flusher.Flush()
		}
	}
}

type pauseRequest struct {
	Password string `json:"password"`
}

type pauseResponse struct {
	Success     bool  `json:"success"`
	UntilEpochMs int64 `json:"untilEpochMs"`
}

// handlePause serves POST /api/stream/{sourceId}/pause (spec §6).
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	proxy, err := s.streams.GetProxy(sourceID)
	if err != nil {
		s.writeUnknownSource(w, sourceID)
		return
	}

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.auth.Check(req.Password); err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			s.writeError(w, http.StatusServiceUnavailable, "pause is not configured")
			return
		}
		s.writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	until := proxy.Pause(defaultPauseDuration)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pauseResponse{Success: true, UntilEpochMs: until.UnixMilli()})
}

type statusResponse struct {
	IsPaused     bool   `json:"isPaused"`
	UntilEpochMs *int64 `json:"untilEpochMs,omitempty"`
	RemainingMs  int64  `json:"remainingMs"`
}

// handleStatus serves GET /api/stream/{sourceId}/status (spec §6).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	proxy, err := s.streams.GetProxy(sourceID)
	if err != nil {
		s.writeUnknownSource(w, sourceID)
		return
	}

	paused, until := proxy.PauseState()
	resp := statusResponse{IsPaused: paused}
	if paused {
		ms := until.UnixMilli()
		resp.UntilEpochMs = &ms
		remaining := time.Until(until)
		if remaining > 0 {
			resp.RemainingMs = remaining.Milliseconds()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleListSources serves GET /api/sources (spec §6).
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.streams.ListSources())
}

type historyResponse struct {
	Success bool           `json:"success"`
	Events  []store.Record `json:"events"`
	Total   int            `json:"total"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Stats   historyStats   `json:"stats"`
}

type historyStats struct {
	ReturnedCount int `json:"returnedCount"`
}

// handleMotionHistory serves GET /api/motion/history (spec §6).
func (s *Server) handleMotionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "motion history is not configured")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)

	records, total, err := s.history.History(store.Query{Limit: limit, Offset: offset, SinceMs: since})
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("[httpapi] motion history query failed: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(historyResponse{
		Success: true,
		Events:  records,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		Stats:   historyStats{ReturnedCount: len(records)},
	})
}
