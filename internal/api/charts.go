package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/verdant-data/greenhouse.report/internal/httputil"
)

// historyChart renders the recent temperature and humidity history as a
// server-side echarts line chart.
func (s *Server) historyChart(w http.ResponseWriter, r *http.Request) {
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
	if len(readings) == 0 {
		httputil.NotFound(w, "no readings in window")
		return
	}

	x := make([]string, len(readings))
	temps := make([]opts.LineData, len(readings))
	hums := make([]opts.LineData, len(readings))
	for i, reading := range readings {
		x[i] = reading.Timestamp.Format("15:04:05")
		temps[i] = opts.LineData{Value: *reading.TemperatureC}
		hums[i] = opts.LineData{Value: *reading.HumidityPercent}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Greenhouse History",
			Subtitle: fmt.Sprintf("last %s, %d readings", window, len(readings)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("Temperature (°C)", temps).
		AddSeries("Humidity (%)", hums).
		SetSeriesOptions(
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
