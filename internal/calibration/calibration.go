// Package calibration converts between raw ADC codes and physical quantities
// for the greenhouse node's sensors: an NTC thermistor on a resistor divider
// and a capacitive soil-humidity probe with an experimentally fitted
// exponential curve. All functions are pure; Constants is read-only after
// load.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

const (
	// ADCCodeMax is the full-scale code of the node's 12-bit converter.
	ADCCodeMax = 4095

	// DisconnectedThreshold is the NTC code above which the sensor is treated
	// as unplugged or shorted rather than reading a real temperature.
	DisconnectedThreshold = 4050

	kelvinOffset = 273.15

	// Plausibility band for decoded temperatures. Anything outside is
	// reported as unusable rather than persisted.
	minPlausibleC = -10.0
	maxPlausibleC = 80.0

	// Fallback raw setpoints used when an inverse conversion hits a numeric
	// fault. The control path must always produce a sendable command, so
	// these defaults (the firmware's own power-on setpoints) are substituted
	// instead of failing the send.
	FallbackHumidityRaw    = 3000
	FallbackTemperatureRaw = 1600
)

var (
	// ErrDisconnected reports an NTC code in the disconnected-sensor band.
	ErrDisconnected = errors.New("ntc code in disconnected band")

	// ErrImplausible reports a decoded temperature outside the plausible
	// range. The value is unusable, not a fault to propagate.
	ErrImplausible = fmt.Errorf("temperature outside [%g, %g] C", minPlausibleC, maxPlausibleC)

	// ErrNotFinite reports a conversion that produced NaN or an infinity.
	ErrNotFinite = errors.New("conversion produced a non-finite value")
)

// Constants holds the calibration configuration for one greenhouse node.
// Values are fixed at startup and never mutated.
type Constants struct {
	// NTC thermistor divider and Beta-equation parameters.
	FixedResistorOhms float64 `json:"fixed_resistor_ohms"`
	NominalOhms       float64 `json:"nominal_ohms"`
	NominalTempC      float64 `json:"nominal_temp_c"`
	Beta              float64 `json:"beta"`

	// Soil-humidity curve: percent = 100 * ln(raw/A) / B.
	HumidityCurveA float64 `json:"humidity_curve_a"`
	HumidityCurveB float64 `json:"humidity_curve_b"`

	// ADC characteristics.
	ADCMax   float64 `json:"adc_max"`
	RefVolts float64 `json:"ref_volts"`
}

// Default returns the calibration constants for the deployed hardware:
// a 10k NTC (beta 3950) against a 10k fixed resistor on a 3.3V 12-bit ADC,
// and the fitted curve for the capacitive soil probe.
func Default() Constants {
	return Constants{
		FixedResistorOhms: 10000.0,
		NominalOhms:       10000.0,
		NominalTempC:      25.0,
		Beta:              3950.0,
		HumidityCurveA:    3899.7,
		HumidityCurveB:    -3.484,
		ADCMax:            ADCCodeMax,
		RefVolts:          3.3,
	}
}

// Validate checks that the constants describe a usable calibration.
func (c Constants) Validate() error {
	if c.FixedResistorOhms <= 0 || c.NominalOhms <= 0 || c.Beta <= 0 {
		return errors.New("ntc parameters must be positive")
	}
	if c.HumidityCurveA <= 0 {
		return errors.New("humidity curve A must be positive")
	}
	if c.HumidityCurveB >= 0 {
		return errors.New("humidity curve B must be negative (wetter soil reads lower)")
	}
	if c.ADCMax <= 0 || c.RefVolts <= 0 {
		return errors.New("adc parameters must be positive")
	}
	return nil
}

// TemperatureC converts a raw NTC code to degrees Celsius using the divider
// equation and the simplified Beta (Steinhart-Hart) model. Codes above
// DisconnectedThreshold return ErrDisconnected; results outside the plausible
// band return ErrImplausible. Callers treat any error as "value not usable"
// and must not persist the reading.
func (c Constants) TemperatureC(raw uint16) (float64, error) {
	if raw > DisconnectedThreshold {
		return 0, ErrDisconnected
	}

	vOut := float64(raw) * c.RefVolts / c.ADCMax
	if vOut <= 0 || vOut >= c.RefVolts {
		return 0, ErrNotFinite
	}
	rNTC := vOut * c.FixedResistorOhms / (c.RefVolts - vOut)

	invT := 1.0/(c.NominalTempC+kelvinOffset) + math.Log(rNTC/c.NominalOhms)/c.Beta
	tempC := 1.0/invT - kelvinOffset
	if math.IsNaN(tempC) || math.IsInf(tempC, 0) {
		return 0, ErrNotFinite
	}
	if tempC < minPlausibleC || tempC > maxPlausibleC {
		return 0, ErrImplausible
	}
	return tempC, nil
}

// HumidityPercent converts a raw soil-probe code to a percentage in [0, 100].
// A code of zero saturates to 100% and codes at or beyond the curve's A
// coefficient saturate to 0%; in between the fitted logarithmic curve is
// evaluated and clamped.
func (c Constants) HumidityPercent(raw uint16) (float64, error) {
	y := float64(raw)
	if y <= 0 {
		return 100.0, nil
	}
	if y >= c.HumidityCurveA {
		return 0.0, nil
	}

	percent := 100.0 * math.Log(y/c.HumidityCurveA) / c.HumidityCurveB
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0, ErrNotFinite
	}
	return math.Max(0.0, math.Min(100.0, percent)), nil
}

// HumidityRaw converts a humidity setpoint in percent to the raw code the
// firmware compares against, via the inverse exponential A*exp(B*p/100).
// Default-on-failure: a numeric fault yields FallbackHumidityRaw rather than
// an error, because the control path must always produce a sendable command.
func (c Constants) HumidityRaw(percent float64) uint16 {
	raw := c.HumidityCurveA * math.Exp(c.HumidityCurveB*percent/100.0)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return FallbackHumidityRaw
	}
	return clampRaw(raw)
}

// TemperatureRaw converts a temperature setpoint in Celsius to the raw code
// the firmware compares against: inverse Beta equation, then the divider
// inverse. Default-on-failure: a numeric fault yields
// FallbackTemperatureRaw, same contract as HumidityRaw.
func (c Constants) TemperatureRaw(tempC float64) uint16 {
	tK := tempC + kelvinOffset
	t0K := c.NominalTempC + kelvinOffset
	if tK == 0 {
		return FallbackTemperatureRaw
	}

	rNTC := c.NominalOhms * math.Exp((1.0/tK-1.0/t0K)*c.Beta)
	vOut := rNTC * c.RefVolts / (c.FixedResistorOhms + rNTC)
	raw := vOut * c.ADCMax / c.RefVolts
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return FallbackTemperatureRaw
	}
	return clampRaw(raw)
}

// clampRaw clamps to the ADC range and truncates toward zero, matching the
// firmware's integer setpoint domain.
func clampRaw(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > ADCCodeMax {
		return ADCCodeMax
	}
	return uint16(v)
}
