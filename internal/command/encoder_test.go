package command

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/verdant-data/greenhouse.report/internal/calibration"
)

func TestEncodeSetpointsOrderAndValues(t *testing.T) {
	enc := NewEncoder(calibration.Default(), 2000)

	got := enc.Setpoints(Setpoints{
		HumidityPercent:  50,
		TemperatureC:     25,
		PhotoperiodHours: 14,
	})
	want := []string{
		"SET,HUMID,683",
		"SET,TEMP,2047",
		"SET,LDR,2000",
		"SET,META_LUZ,50400",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("setpoint command sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeSetpointsTruncatesPhotoperiod(t *testing.T) {
	enc := NewEncoder(calibration.Default(), 2000)

	got := enc.Setpoints(Setpoints{HumidityPercent: 50, TemperatureC: 25, PhotoperiodHours: 13.9999})
	// 13.9999h * 3600 = 50399.64s, truncated not rounded.
	if got[3] != "SET,META_LUZ,50399" {
		t.Errorf("photoperiod command = %q, want SET,META_LUZ,50399", got[3])
	}
}

func TestEncodeSetpointsFallsBackOnNumericFault(t *testing.T) {
	enc := NewEncoder(calibration.Default(), 2000)

	// NaN targets must still produce a sendable sequence with the documented
	// default raw values.
	got := enc.Setpoints(Setpoints{HumidityPercent: math.NaN(), TemperatureC: math.NaN(), PhotoperiodHours: 14})
	if got[0] != "SET,HUMID,3000" {
		t.Errorf("humidity fallback command = %q, want SET,HUMID,3000", got[0])
	}
	if got[1] != "SET,TEMP,1600" {
		t.Errorf("temperature fallback command = %q, want SET,TEMP,1600", got[1])
	}
}

func TestOutOfBandCommands(t *testing.T) {
	enc := NewEncoder(calibration.Default(), 2000)

	if got := enc.Photoperiod(true); got != "SET,FOTO,1" {
		t.Errorf("Photoperiod(true) = %q", got)
	}
	if got := enc.Photoperiod(false); got != "SET,FOTO,0" {
		t.Errorf("Photoperiod(false) = %q", got)
	}
	if got := enc.ResetLightTimer(); got != "RESET,TIMER_LUZ" {
		t.Errorf("ResetLightTimer() = %q", got)
	}
}

func TestSetpointsValidate(t *testing.T) {
	tests := []struct {
		name    string
		sp      Setpoints
		wantErr bool
	}{
		{"typical", Setpoints{50, 25, 14}, false},
		{"humidity low", Setpoints{-1, 25, 14}, true},
		{"humidity high", Setpoints{101, 25, 14}, true},
		{"photoperiod zero", Setpoints{50, 25, 0}, true},
		{"photoperiod over a day", Setpoints{50, 25, 25}, true},
		{"bounds", Setpoints{0, 25, 24}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
