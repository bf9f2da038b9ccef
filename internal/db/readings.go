package db

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/verdant-data/greenhouse.report/internal/telemetry"
)

// ErrIncompleteReading is returned when a reading with failed calibration is
// offered for persistence. Such readings are for operator visibility only and
// must never enter the history.
var ErrIncompleteReading = errors.New("reading has uncalibrated fields")

// ErrNoReadings is returned by queries over an empty time window.
var ErrNoReadings = errors.New("no readings in window")

// RecordReading persists a fully calibrated reading.
func (db *DB) RecordReading(r *telemetry.Reading) error {
	if !r.Complete() {
		return ErrIncompleteReading
	}
	_, err := db.Exec(`
		INSERT INTO readings
			(timestamp_ms, ldr_raw, temperature_c, humidity_raw,
			 humidity_percent, led_status, light_accumulated_s)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UnixMilli(), r.LDRRaw, *r.TemperatureC, r.HumidityRaw,
		*r.HumidityPercent, boolToInt(r.LEDOn), r.LightAccumSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ReadingsSince returns all readings newer than the cutoff, oldest first.
func (db *DB) ReadingsSince(cutoff time.Time) ([]telemetry.Reading, error) {
	rows, err := db.Query(`
		SELECT timestamp_ms, ldr_raw, temperature_c, humidity_raw,
		       humidity_percent, led_status, light_accumulated_s
		FROM readings
		WHERE timestamp_ms > ?
		ORDER BY timestamp_ms ASC`, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []telemetry.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// LatestReading returns the most recent reading, or ErrNoReadings if the
// table is empty.
func (db *DB) LatestReading() (*telemetry.Reading, error) {
	rows, err := db.Query(`
		SELECT timestamp_ms, ldr_raw, temperature_c, humidity_raw,
		       humidity_percent, led_status, light_accumulated_s
		FROM readings
		ORDER BY timestamp_ms DESC
		LIMIT 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoReadings
	}
	r, err := scanReading(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(rows rowScanner) (telemetry.Reading, error) {
	var (
		r      telemetry.Reading
		tsMs   int64
		tempC  float64
		humPct float64
		led    int
	)
	if err := rows.Scan(&tsMs, &r.LDRRaw, &tempC, &r.HumidityRaw,
		&humPct, &led, &r.LightAccumSeconds); err != nil {
		return telemetry.Reading{}, err
	}
	r.Timestamp = time.UnixMilli(tsMs).UTC()
	r.TemperatureC = &tempC
	r.HumidityPercent = &humPct
	r.LEDOn = led != 0
	return r, nil
}

// FieldSummary holds descriptive statistics for one sensed quantity over a
// window.
type FieldSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary aggregates the readings in the window into per-field statistics.
type Summary struct {
	Count           int          `json:"count"`
	WindowStart     time.Time    `json:"window_start"`
	WindowEnd       time.Time    `json:"window_end"`
	TemperatureC    FieldSummary `json:"temperature_c"`
	HumidityPercent FieldSummary `json:"humidity_percent"`
	LDRRaw          FieldSummary `json:"ldr_raw"`
	LightHours      float64      `json:"light_hours"`
}

// SummarizeSince computes descriptive statistics over all readings newer
// than the cutoff. Returns ErrNoReadings for an empty window.
func (db *DB) SummarizeSince(cutoff time.Time) (*Summary, error) {
	readings, err := db.ReadingsSince(cutoff)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	temps := make([]float64, len(readings))
	hums := make([]float64, len(readings))
	ldrs := make([]float64, len(readings))
	for i, r := range readings {
		temps[i] = *r.TemperatureC
		hums[i] = *r.HumidityPercent
		ldrs[i] = float64(r.LDRRaw)
	}

	last := readings[len(readings)-1]
	return &Summary{
		Count:           len(readings),
		WindowStart:     readings[0].Timestamp,
		WindowEnd:       last.Timestamp,
		TemperatureC:    summarize(temps),
		HumidityPercent: summarize(hums),
		LDRRaw:          summarize(ldrs),
		LightHours:      float64(last.LightAccumSeconds) / 3600,
	}, nil
}

func summarize(xs []float64) FieldSummary {
	return FieldSummary{
		Mean:   stat.Mean(xs, nil),
		StdDev: stat.StdDev(xs, nil),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
	}
}
