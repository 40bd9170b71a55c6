// Package api provides the read-only watcher endpoints over stored flights and
// the health/readiness/metrics server every binary runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	flightTrackLimit = 500
	geoboxLimit      = 1000
	geoboxWindow     = time.Hour
)

// RequestMetrics counts served requests.
type RequestMetrics interface {
	Request(endpoint string, status int)
}

type nopRequestMetrics struct{}

func (nopRequestMetrics) Request(string, int) {}

// WatcherServer serves flight positions and tracks from a store.
type WatcherServer struct {
	store   storage.Reader
	logger  *zap.Logger
	metrics RequestMetrics
	now     func() time.Time
}

// NewWatcherServer creates a watcher API server. metrics may be nil.
func NewWatcherServer(store storage.Reader, logger *zap.Logger, metrics RequestMetrics) *WatcherServer {
	if metrics == nil {
		metrics = nopRequestMetrics{}
	}
	return &WatcherServer{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Router returns the HTTP handler with standard middleware applied.
func (s *WatcherServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/list-flights", s.counted("list_flights", s.handleListFlights))
	r.Get("/list-flight/{id}", s.counted("list_flight", s.handleGetFlight))
	r.Get("/flight-track/{id}", s.counted("flight_track", s.handleFlightTrack))
	r.Post("/geobox-list-flight", s.counted("geobox_list_flight", s.handleGeobox))
	r.Get("/tracks/{id}", s.counted("track", s.handleTrack))
	r.Get("/aircraft/{hex}", s.counted("aircraft", s.handleAircraft))
	r.Get("/aircraft/{hex}/tracks", s.counted("aircraft_tracks", s.handleAircraftTracks))

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *WatcherServer) counted(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		s.metrics.Request(endpoint, ww.Status())
	}
}

func (s *WatcherServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *WatcherServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_READY"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
}

func (s *WatcherServer) handleListFlights(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	flights, err := s.store.ListLatestPositions(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, "list flights", err)
		return
	}
	if flights == nil {
		flights = []storage.FlightSummary{}
	}
	writeJSON(w, http.StatusOK, flights)
}

func (s *WatcherServer) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Invalid flight id: ")
	if !ok {
		return
	}

	pos, err := s.store.GetPosition(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}
	if err != nil {
		s.internalError(w, "get flight", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// handleFlightTrack resolves the aircraft behind a position id and returns
// its position history in time order.
func (s *WatcherServer) handleFlightTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Invalid flight id: ")
	if !ok {
		return
	}

	pos, err := s.store.GetPosition(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Flight track not found")
		return
	}
	if err != nil {
		s.internalError(w, "get flight track", err)
		return
	}

	series, err := s.store.ListAircraftPositions(r.Context(), pos.AircraftID, flightTrackLimit)
	if err != nil {
		s.internalError(w, "get flight track", err)
		return
	}
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, "Flight track not found")
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *WatcherServer) handleGeobox(w http.ResponseWriter, r *http.Request) {
	var box storage.Box
	if err := json.NewDecoder(r.Body).Decode(&box); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := box.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bounding box coordinates")
		return
	}

	positions, err := s.store.FindPositionsInBox(r.Context(), box, s.now().Add(-geoboxWindow), geoboxLimit)
	if err != nil {
		s.internalError(w, "geobox search", err)
		return
	}
	if positions == nil {
		positions = []storage.PositionDetail{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *WatcherServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Invalid track id: ")
	if !ok {
		return
	}

	track, err := s.store.GetTrack(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Track not found")
		return
	}
	if err != nil {
		s.internalError(w, "get track", err)
		return
	}
	writeJSON(w, http.StatusOK, trackFeature(track))
}

func (s *WatcherServer) handleAircraft(w http.ResponseWriter, r *http.Request) {
	ac, err := s.store.GetAircraft(r.Context(), adsb.NormaliseHex(chi.URLParam(r, "hex")))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Aircraft not found")
		return
	}
	if err != nil {
		s.internalError(w, "get aircraft", err)
		return
	}
	writeJSON(w, http.StatusOK, ac)
}

// handleAircraftTracks lists an aircraft's tracks as a FeatureCollection.
func (s *WatcherServer) handleAircraftTracks(w http.ResponseWriter, r *http.Request) {
	ac, err := s.store.GetAircraft(r.Context(), adsb.NormaliseHex(chi.URLParam(r, "hex")))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Aircraft not found")
		return
	}
	if err != nil {
		s.internalError(w, "get aircraft", err)
		return
	}

	tracks, err := s.store.ListTracks(r.Context(), ac.ID)
	if err != nil {
		s.internalError(w, "list tracks", err)
		return
	}
	writeJSON(w, http.StatusOK, trackCollection(tracks))
}

func (s *WatcherServer) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request, msg string) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msg+raw)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
