// plot-history renders the recorded temperature and humidity history from a
// bridge database to a PNG, for reports and offline inspection without the
// web UI.
package main

import (
	"flag"
	"log"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/verdant-data/greenhouse.report/internal/db"
)

var (
	dbPath = flag.String("db", "greenhouse.db", "Path to the bridge database")
	out    = flag.String("out", "history.png", "Output PNG file")
	window = flag.Duration("window", 24*time.Hour, "History window to plot")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	readings, err := database.ReadingsSince(time.Now().Add(-*window))
	if err != nil {
		log.Fatalf("failed to query readings: %v", err)
	}
	if len(readings) == 0 {
		log.Fatalf("no readings in the last %s", *window)
	}

	start := readings[0].Timestamp
	tempPts := make(plotter.XYs, len(readings))
	humPts := make(plotter.XYs, len(readings))
	for i, r := range readings {
		x := r.Timestamp.Sub(start).Minutes()
		tempPts[i] = plotter.XY{X: x, Y: *r.TemperatureC}
		humPts[i] = plotter.XY{X: x, Y: *r.HumidityPercent}
	}

	p := plot.New()
	p.Title.Text = "Greenhouse History"
	p.X.Label.Text = "Minutes since " + start.Format(time.RFC3339)
	p.Y.Label.Text = "Temperature (°C) / Humidity (%)"

	tempLine, err := plotter.NewLine(tempPts)
	if err != nil {
		log.Fatalf("failed to build temperature line: %v", err)
	}
	tempLine.Width = vg.Points(1)
	p.Add(tempLine)
	p.Legend.Add("temperature", tempLine)

	humLine, err := plotter.NewLine(humPts)
	if err != nil {
		log.Fatalf("failed to build humidity line: %v", err)
	}
	humLine.Width = vg.Points(1)
	humLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(humLine)
	p.Legend.Add("humidity", humLine)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, *out); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("plotted %d readings to %s", len(readings), *out)
}
