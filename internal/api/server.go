// Package api serves the dashboard's JSON endpoints: history queries,
// setpoint application, link status, and the plant advisor.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verdant-data/greenhouse.report/internal/advisory"
	"github.com/verdant-data/greenhouse.report/internal/command"
	"github.com/verdant-data/greenhouse.report/internal/db"
	"github.com/verdant-data/greenhouse.report/internal/httputil"
	"github.com/verdant-data/greenhouse.report/internal/monitoring"
	"github.com/verdant-data/greenhouse.report/internal/serialmux"
	"github.com/verdant-data/greenhouse.report/internal/telemetry"
)

// defaultWindow is the history window when the client does not pass one.
// The dashboard shows the last ten minutes.
const defaultWindow = 10 * time.Minute

// LinkReporter is the slice of the serial mux the API needs.
type LinkReporter interface {
	SendCommands([]string) error
	Status() serialmux.LinkStatus
}

// Advisor is satisfied by advisory.Client.
type Advisor interface {
	Suggest(ctx context.Context, plant string) (*advisory.Suggestion, error)
}

// Server holds the handler dependencies.
type Server struct {
	link    LinkReporter
	db      *db.DB
	enc     *command.Encoder
	advisor Advisor // nil when no API key is configured
}

// NewServer creates an API server. advisor may be nil, in which case the
// advisor endpoint reports the feature as unavailable.
func NewServer(link LinkReporter, database *db.DB, enc *command.Encoder, advisor Advisor) *Server {
	return &Server{
		link:    link,
		db:      database,
		enc:     enc,
		advisor: advisor,
	}
}

// AddRoutes registers the API handlers on the given mux.
func (s *Server) AddRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/readings/latest", s.latestReading)
	mux.HandleFunc("/api/summary", s.summary)
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/setpoints", s.applySetpoints)
	mux.HandleFunc("/api/commands", s.listCommands)
	mux.HandleFunc("/api/advisor", s.advise)
	mux.HandleFunc("/charts", s.historyChart)
}

// windowParam parses the ?window= query parameter as a duration, defaulting
// to defaultWindow.
func windowParam(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return defaultWindow, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", raw)
	}
	return d, nil
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	window, err := windowParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	readings, err := s.db.ReadingsSince(time.Now().Add(-window))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query readings: %v", err))
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	httputil.WriteJSONOK(w, readings)
}

func (s *Server) latestReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	reading, err := s.db.LatestReading()
	if err == db.ErrNoReadings {
		httputil.NotFound(w, "no readings recorded yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query latest reading: %v", err))
		return
	}
	httputil.WriteJSONOK(w, reading)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	window, err := windowParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	summary, err := s.db.SummarizeSince(time.Now().Add(-window))
	if err == db.ErrNoReadings {
		httputil.NotFound(w, "no readings in window")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.link.Status())
}

// applySetpoints validates the posted setpoints, encodes them as the
// firmware command sequence, and writes the sequence through the link.
// Every line that reaches the wire is recorded in the audit log.
func (s *Server) applySetpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var sp command.Setpoints
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid setpoints JSON: %v", err))
		return
	}
	if err := sp.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	lines := s.enc.Setpoints(sp)
	if err := s.link.SendCommands(lines); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send setpoints: %v", err))
		return
	}
	for _, line := range lines {
		if _, err := s.db.RecordCommand(line, "api"); err != nil {
			monitoring.Logf("failed to record command %q: %v", line, err)
		}
	}

	httputil.WriteJSONOK(w, map[string]any{
		"applied":  sp,
		"commands": lines,
	})
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	records, err := s.db.ListCommands(100)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list commands: %v", err))
		return
	}
	if records == nil {
		records = []db.CommandRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

// advise asks the configured model for ideal setpoints. The suggestion is
// returned to the client for review, never applied directly.
func (s *Server) advise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.advisor == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "advisor not configured: set GEMINI_API_KEY")
		return
	}

	var req struct {
		Plant string `json:"plant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Plant) == "" {
		httputil.BadRequest(w, "plant must not be empty")
		return
	}

	suggestion, err := s.advisor.Suggest(r.Context(), req.Plant)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("advisor failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, suggestion)
}
