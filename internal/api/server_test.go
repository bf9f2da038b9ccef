package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-data/greenhouse.report/internal/advisory"
	"github.com/verdant-data/greenhouse.report/internal/calibration"
	"github.com/verdant-data/greenhouse.report/internal/command"
	"github.com/verdant-data/greenhouse.report/internal/db"
	"github.com/verdant-data/greenhouse.report/internal/serialmux"
	"github.com/verdant-data/greenhouse.report/internal/telemetry"
)

type fakeLink struct {
	mu     sync.Mutex
	sent   [][]string
	err    error
	status serialmux.LinkStatus
}

func (f *fakeLink) SendCommands(lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, lines)
	return nil
}

func (f *fakeLink) Status() serialmux.LinkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeAdvisor struct {
	suggestion *advisory.Suggestion
	err        error
}

func (f *fakeAdvisor) Suggest(ctx context.Context, plant string) (*advisory.Suggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestion, nil
}

func testServer(t *testing.T, link LinkReporter, advisor Advisor) (*Server, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	enc := command.NewEncoder(calibration.Default(), 2000)
	return NewServer(link, database, enc, advisor), database
}

func seedReading(t *testing.T, database *db.DB, ts time.Time, tempC, humPct float64) {
	t.Helper()
	r := &telemetry.Reading{
		Timestamp:         ts,
		LDRRaw:            1500,
		TemperatureC:      &tempC,
		HumidityRaw:       683,
		HumidityPercent:   &humPct,
		LEDOn:             false,
		LightAccumSeconds: 1200,
	}
	require.NoError(t, database.RecordReading(r))
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.AddRoutes(mux)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListReadings(t *testing.T) {
	s, database := testServer(t, &fakeLink{}, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)
	seedReading(t, database, now.Add(-5*time.Minute), 22, 55)
	seedReading(t, database, now.Add(-time.Minute), 23, 54)
	seedReading(t, database, now.Add(-time.Hour), 20, 60) // outside default window

	rec := doRequest(s, http.MethodGet, "/api/readings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var readings []telemetry.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	assert.Len(t, readings, 2)

	// An explicit window widens the query.
	rec = doRequest(s, http.MethodGet, "/api/readings?window=2h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	assert.Len(t, readings, 3)
}

func TestListReadingsEmptyIsJSONArray(t *testing.T) {
	s, _ := testServer(t, &fakeLink{}, nil)
	rec := doRequest(s, http.MethodGet, "/api/readings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListReadingsRejectsBadWindow(t *testing.T) {
	s, _ := testServer(t, &fakeLink{}, nil)
	rec := doRequest(s, http.MethodGet, "/api/readings?window=banana", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/readings?window=-5m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestReading(t *testing.T) {
	s, database := testServer(t, &fakeLink{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/readings/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now().UTC().Truncate(time.Millisecond)
	seedReading(t, database, now, 24.5, 51)

	rec = doRequest(s, http.MethodGet, "/api/readings/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reading telemetry.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.Equal(t, 24.5, *reading.TemperatureC)
}

func TestSummary(t *testing.T) {
	s, database := testServer(t, &fakeLink{}, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)
	seedReading(t, database, now.Add(-2*time.Minute), 20, 50)
	seedReading(t, database, now.Add(-time.Minute), 24, 54)

	rec := doRequest(s, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary db.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Count)
	assert.InDelta(t, 22.0, summary.TemperatureC.Mean, 1e-9)

	rec = doRequest(s, http.MethodGet, "/api/summary?window=1ms", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	link := &fakeLink{status: serialmux.LinkStatus{Connected: true}}
	s, _ := testServer(t, link, nil)

	rec := doRequest(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status serialmux.LinkStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Connected)
}

func TestApplySetpoints(t *testing.T) {
	link := &fakeLink{}
	s, database := testServer(t, link, nil)

	body := `{"humidity_percent": 50, "temperature_c": 25, "photoperiod_hours": 14}`
	rec := doRequest(s, http.MethodPost, "/api/setpoints", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, link.sent, 1)
	want := []string{
		"SET,HUMID,683",
		"SET,TEMP,2047",
		"SET,LDR,2000",
		"SET,META_LUZ,50400",
	}
	assert.Equal(t, want, link.sent[0])

	// Each line landed in the audit log with the api source.
	records, err := database.ListCommands(10)
	require.NoError(t, err)
	assert.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, "api", rec.Source)
	}
}

func TestApplySetpointsValidation(t *testing.T) {
	link := &fakeLink{}
	s, _ := testServer(t, link, nil)

	rec := doRequest(s, http.MethodPost, "/api/setpoints", `{"humidity_percent": 140, "temperature_c": 25, "photoperiod_hours": 14}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/setpoints", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, link.sent)
}

func TestApplySetpointsLinkFailure(t *testing.T) {
	link := &fakeLink{err: errors.New("port gone")}
	s, database := testServer(t, link, nil)

	body := `{"humidity_percent": 50, "temperature_c": 25, "photoperiod_hours": 14}`
	rec := doRequest(s, http.MethodPost, "/api/setpoints", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Nothing reached the wire, so nothing is audited.
	records, err := database.ListCommands(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAdvisor(t *testing.T) {
	advisor := &fakeAdvisor{suggestion: &advisory.Suggestion{
		Plant:       "orchid",
		Setpoints:   command.Setpoints{HumidityPercent: 70, TemperatureC: 24, PhotoperiodHours: 12},
		Description: "humid shade",
	}}
	s, _ := testServer(t, &fakeLink{}, advisor)

	rec := doRequest(s, http.MethodPost, "/api/advisor", `{"plant": "orchid"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got advisory.Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "orchid", got.Plant)
	assert.Equal(t, 70.0, got.Setpoints.HumidityPercent)
}

func TestAdvisorUnconfigured(t *testing.T) {
	s, _ := testServer(t, &fakeLink{}, nil)
	rec := doRequest(s, http.MethodPost, "/api/advisor", `{"plant": "orchid"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdvisorEmptyPlant(t *testing.T) {
	s, _ := testServer(t, &fakeLink{}, &fakeAdvisor{})
	rec := doRequest(s, http.MethodPost, "/api/advisor", `{"plant": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryChart(t *testing.T) {
	s, database := testServer(t, &fakeLink{}, nil)

	rec := doRequest(s, http.MethodGet, "/charts", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now().UTC().Truncate(time.Millisecond)
	seedReading(t, database, now.Add(-time.Minute), 22, 55)

	rec = doRequest(s, http.MethodGet, "/charts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Greenhouse History")
}

func TestMethodGuards(t *testing.T) {
	s, _ := testServer(t, &fakeLink{}, nil)

	for _, target := range []string{"/api/readings", "/api/readings/latest", "/api/summary", "/api/status", "/api/commands", "/charts"} {
		rec := doRequest(s, http.MethodPost, target, "")
		assert.Equalf(t, http.StatusMethodNotAllowed, rec.Code, "POST %s", target)
	}
	for _, target := range []string{"/api/setpoints", "/api/advisor"} {
		rec := doRequest(s, http.MethodGet, target, "")
		assert.Equalf(t, http.StatusMethodNotAllowed, rec.Code, "GET %s", target)
	}
}
