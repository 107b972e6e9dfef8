// Package api serves the dashboard REST endpoints and mounts the push channel.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hervehildenbrand/cti-radar/pkg/database"
	"github.com/hervehildenbrand/cti-radar/pkg/logger"
)

const (
	requestTimeout   = 15 * time.Second
	topCountryLimit  = 5
	defaultRecentCap = 50
)

// Route paths
const (
	PathHealth       = "/healthz"
	PathTrends       = "/api/threat_trends"
	PathBySeverity   = "/api/dashboard/threats_by_severity"
	PathBySource     = "/api/dashboard/threats_by_source"
	PathKPIs         = "/api/dashboard/kpis"
	PathTopCountries = "/api/dashboard/top_countries"
	PathRecent       = "/api/threats/recent"
	PathSettings     = "/api/settings"
	PathClear        = "/api/clear_db"
	PathExport       = "/export"
	PathSocket       = "/ws"
)

// Server routes REST requests to the store.
type Server struct {
	store     database.Store
	socket    http.Handler
	keyStatus map[string]string
	router    chi.Router
}

// NewServer builds the router. socket serves the websocket endpoint and may
// be nil.
func NewServer(store database.Store, socket http.Handler, keyStatus map[string]string) *Server {
	s := &Server{store: store, socket: socket, keyStatus: keyStatus}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.socket != nil {
		// No timeout middleware here: the connection is long lived.
		r.Handle(PathSocket, s.socket)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "cti-radar"})
		})
		r.Get(PathTrends, s.handleTrends)
		r.Get(PathBySeverity, s.handleBySeverity)
		r.Get(PathBySource, s.handleBySource)
		r.Get(PathKPIs, s.handleKPIs)
		r.Get(PathTopCountries, s.handleTopCountries)
		r.Get(PathRecent, s.handleRecent)
		r.Get(PathSettings, s.handleSettings)
		r.Get(PathExport, s.handleExport)
		r.Post(PathClear, s.handleClear)
	})
	return r
}

// WriteJSON writes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	logger.Error("[api] %v", err)
	WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days, err := s.store.Trends(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TrendSeries(days))
}

func (s *Server) handleBySeverity(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.BySeverity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, BucketSeries(buckets, Capitalize))
}

func (s *Server) handleBySource(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.BySource(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, BucketSeries(buckets, nil))
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.store.KPIs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, kpis)
}

func (s *Server) handleTopCountries(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.TopCountries(r.Context(), topCountryLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, CountryWidget(buckets))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultRecentCap)
	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"api_status": s.keyStatus})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename="+exportFilename)
	if err := WriteCSV(w, records); err != nil {
		logger.Error("[api] export: %v", err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("[api] cleared %d records", n)
	WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully deleted %d records from the database.", n),
		"status":  "success",
	})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
