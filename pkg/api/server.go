// Package api pkg/api/server.go exposes the HTTP surface of the fleet
// monitor: report intake, device and group queries, transition log
// queries, live status streams and runtime settings.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fleetmon/fleetmon/pkg/aggregate"
	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/hierarchy"
	"github.com/fleetmon/fleetmon/pkg/ingest"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	defaultLogLimit  = 200
)

type Server struct {
	store     db.Service
	intake    *ingest.Intake
	publisher *aggregate.Publisher
	resolver  *hierarchy.Resolver
	limiter   *rate.Limiter
	router    *mux.Router
	log       zerolog.Logger
}

func NewServer(
	store db.Service,
	intake *ingest.Intake,
	publisher *aggregate.Publisher,
	resolver *hierarchy.Resolver,
	limiter *rate.Limiter,
	log zerolog.Logger) *Server {
	s := &Server{
		store:     store,
		intake:    intake,
		publisher: publisher,
		resolver:  resolver,
		limiter:   limiter,
		router:    mux.NewRouter(),
		log:       log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	return s
}

// Router returns the handler to mount on the HTTP server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(commonMiddleware)

	// Report intake.
	s.router.HandleFunc("/api/report", s.rateLimit(s.putReport)).Methods("PUT", "POST")

	// Fleet and device queries.
	s.router.HandleFunc("/api/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/api/devices", s.getDevices).Methods("GET")
	s.router.HandleFunc("/api/devices/{serial}", s.getDevice).Methods("GET")

	// Group queries.
	s.router.HandleFunc("/api/groups/counts", s.getGroupCounts).Methods("GET")

	// Transition log.
	s.router.HandleFunc("/api/logs", s.getLogs).Methods("GET")

	// Live streams.
	s.router.HandleFunc("/api/status/stream", s.streamFleet).Methods("GET")
	s.router.HandleFunc("/api/groups/{id}/status/stream", s.streamGroup).Methods("GET")

	// Runtime settings.
	s.router.HandleFunc("/api/config/timeover", s.getTimeOver).Methods("GET")
	s.router.HandleFunc("/api/config/timeover", s.putTimeOver).Methods("PUT")
}

func (s *Server) putReport(w http.ResponseWriter, r *http.Request) {
	var report ingest.Report

	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid report payload", http.StatusBadRequest)
		return
	}

	result, err := s.intake.Ingest(report)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingSerial) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.log.Error().Err(err).Msg("Report intake failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.publisher.FleetCounts()
	if err != nil {
		s.log.Error().Err(err).Msg("Fleet counts query failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getDevices(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)

	if page < 1 {
		page = 1
	}

	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	devices, total, err := s.store.ListDevicesPage(page, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Device listing failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, devicesPage{
		Devices: devices,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]

	device, err := s.store.GetDeviceBySerial(serial)
	if err != nil {
		if errors.Is(err, db.ErrDeviceNotFound) {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}

		s.log.Error().Err(err).Str("serial", serial).Msg("Device lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, device)
}

func (s *Server) getGroupCounts(w http.ResponseWriter, _ *http.Request) {
	counts, err := s.publisher.GroupCounts()
	if err != nil {
		s.log.Error().Err(err).Msg("Group counts query failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	filter := db.TransitionFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", defaultLogLimit),
	}

	if raw := r.URL.Query().Get("group"); raw != "" {
		groupID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid group id", http.StatusBadRequest)
			return
		}

		ids, err := s.resolver.DescendantIDs(groupID)
		if err != nil {
			s.log.Error().Err(err).Int64("group_id", groupID).Msg("Group resolution failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)

			return
		}

		filter.GroupIDs = ids
	}

	var badTime bool

	filter.Start, badTime = queryTime(r, "start")
	if badTime {
		http.Error(w, "Invalid start time", http.StatusBadRequest)
		return
	}

	filter.End, badTime = queryTime(r, "end")
	if badTime {
		http.Error(w, "Invalid end time", http.StatusBadRequest)
		return
	}

	logs, err := s.store.ListTransitions(filter)
	if err != nil {
		s.log.Error().Err(err).Msg("Transition log query failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) getTimeOver(w http.ResponseWriter, _ *http.Request) {
	seconds, err := s.store.GetTimeOver()
	if err != nil {
		s.log.Error().Err(err).Msg("Threshold lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, timeOverPayload{Seconds: seconds})
}

func (s *Server) putTimeOver(w http.ResponseWriter, r *http.Request) {
	var payload timeOverPayload

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if payload.Seconds <= 0 {
		http.Error(w, "Threshold must be positive", http.StatusBadRequest)
		return
	}

	if err := s.store.SetTimeOver(payload.Seconds); err != nil {
		s.log.Error().Err(err).Msg("Threshold update failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Error encoding response")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return n
}

// queryTime parses an RFC 3339 query parameter. The second return is
// true when the parameter is present but unparsable.
func queryTime(r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, true
	}

	return t, false
}
