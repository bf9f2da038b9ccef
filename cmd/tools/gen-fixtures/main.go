// gen-fixtures writes a binary telemetry fixture file for -dev mode: a day
// of synthetic greenhouse frames with a plausible diurnal temperature curve,
// plus a few deliberately corrupt frames so the decode path's error handling
// is exercised during development.
package main

import (
	"flag"
	"log"
	"math"
	"os"

	"github.com/verdant-data/greenhouse.report/internal/calibration"
	"github.com/verdant-data/greenhouse.report/internal/telemetry"
)

var (
	out     = flag.String("out", "fixtures.bin", "Output file")
	count   = flag.Int("count", 600, "Number of frames to generate")
	corrupt = flag.Bool("corrupt", true, "Interleave corrupt frames")
)

func main() {
	flag.Parse()

	cal := calibration.Default()
	var buf []byte

	for i := 0; i < *count; i++ {
		phase := 2 * math.Pi * float64(i) / float64(*count)

		// Temperature swings 18..28 over the run, humidity drifts around
		// 55%, light follows the same cycle.
		tempC := 23 + 5*math.Sin(phase)
		humPct := 55 + 10*math.Cos(phase/2)
		ldr := uint16(2000 + 1500*math.Sin(phase))
		lightSecs := uint32(i * 2)
		ledOn := ldr < 2000

		frame := telemetry.BuildPacket(ldr, cal.TemperatureRaw(tempC), cal.HumidityRaw(humPct), ledOn, lightSecs)
		buf = append(buf, frame...)

		// Every 50th frame, append garbage that the framing layer must
		// discard and resynchronize past.
		if *corrupt && i%50 == 49 {
			buf = append(buf, 0x01, 0x02, 0x03, telemetry.Terminator)
		}
	}

	if err := os.WriteFile(*out, buf, 0644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	log.Printf("wrote %d frames (%d bytes) to %s", *count, len(buf), *out)
}
