// Package command translates control intent into the text protocol the
// greenhouse firmware parses: comma-separated lines of the form
// SET,<FIELD>,<INTEGER> plus a pair of bare scheduling commands. Lines carry
// no trailing newline; the link layer appends it when writing.
package command

import (
	"fmt"

	"github.com/verdant-data/greenhouse.report/internal/calibration"
)

// Setpoints is the user's control intent in physical units. It is converted
// to the firmware's raw domain at encode time and not retained.
type Setpoints struct {
	HumidityPercent  float64 `json:"humidity_percent"`
	TemperatureC     float64 `json:"temperature_c"`
	PhotoperiodHours float64 `json:"photoperiod_hours"`
}

// Validate rejects setpoints the firmware could not act on sensibly.
func (s Setpoints) Validate() error {
	if s.HumidityPercent < 0 || s.HumidityPercent > 100 {
		return fmt.Errorf("humidity target %.1f%% outside [0, 100]", s.HumidityPercent)
	}
	if s.PhotoperiodHours <= 0 || s.PhotoperiodHours > 24 {
		return fmt.Errorf("photoperiod target %.1fh outside (0, 24]", s.PhotoperiodHours)
	}
	return nil
}

// Encoder builds firmware command lines from physical setpoints. The LDR
// threshold is a fixed site configuration, not part of Setpoints; it is
// re-sent with every setpoint application because the firmware has no other
// way to learn it after a watchdog reset.
type Encoder struct {
	cal          calibration.Constants
	ldrThreshold uint16
}

// NewEncoder returns an Encoder using the given calibration constants and
// fixed LDR daylight threshold.
func NewEncoder(cal calibration.Constants, ldrThreshold uint16) *Encoder {
	return &Encoder{cal: cal, ldrThreshold: ldrThreshold}
}

// Setpoints encodes sp as an ordered command sequence: humidity,
// temperature, LDR threshold, photoperiod goal in seconds (truncated). The
// order is fixed; the firmware applies lines independently but operators
// read the audit log. Inverse calibration faults fall back to the documented
// default raw values, so this never fails to produce a sendable sequence.
func (e *Encoder) Setpoints(sp Setpoints) []string {
	return []string{
		fmt.Sprintf("SET,HUMID,%d", e.cal.HumidityRaw(sp.HumidityPercent)),
		fmt.Sprintf("SET,TEMP,%d", e.cal.TemperatureRaw(sp.TemperatureC)),
		fmt.Sprintf("SET,LDR,%d", e.ldrThreshold),
		fmt.Sprintf("SET,META_LUZ,%d", int64(sp.PhotoperiodHours*3600)),
	}
}

// Photoperiod encodes the scheduling collaborator's enable/disable toggle.
func (e *Encoder) Photoperiod(active bool) string {
	if active {
		return "SET,FOTO,1"
	}
	return "SET,FOTO,0"
}

// ResetLightTimer encodes the daily accumulated-light counter reset.
func (e *Encoder) ResetLightTimer() string {
	return "RESET,TIMER_LUZ"
}
