package telemetry

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/verdant-data/greenhouse.report/internal/calibration"
)

// Reading is one decoded, calibrated telemetry sample. TemperatureC and
// HumidityPercent are nil when the corresponding sensor reported an unusable
// value; such readings are reported for diagnostics but never persisted.
type Reading struct {
	Timestamp         time.Time `json:"timestamp"`
	LDRRaw            uint16    `json:"ldr_raw"`
	TemperatureC      *float64  `json:"temperature_c"`
	HumidityRaw       uint16    `json:"humidity_raw"`
	HumidityPercent   *float64  `json:"humidity_percent"`
	LEDOn             bool      `json:"led_on"`
	LightAccumSeconds uint32    `json:"light_accumulated_s"`
}

// Complete reports whether both physical quantities decoded successfully.
// Only complete readings are persisted.
func (r *Reading) Complete() bool {
	return r != nil && r.TemperatureC != nil && r.HumidityPercent != nil
}

// FrameLengthError reports a candidate frame that is not exactly
// PacketLength bytes. These are dropped silently apart from a diagnostic
// log; framing recovers on the next terminator.
type FrameLengthError struct {
	Length int
}

func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("frame length %d, want %d", e.Length, PacketLength)
}

// ChecksumError reports a packet whose checksum byte does not match the sum
// of its payload. The packet is dropped; no retry.
type ChecksumError struct {
	Computed uint8
	Received uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: computed %#02x, packet carries %#02x", e.Computed, e.Received)
}

// CalibrationError reports a structurally valid packet whose sensor values
// could not be converted to physical units. The raw Reading is still
// returned alongside it for diagnostics.
type CalibrationError struct {
	Field string
	Err   error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("%s not usable: %v", e.Field, e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// Checksum computes the additive checksum over the first 11 bytes, the rule
// the firmware applies before appending byte 11.
func Checksum(p []byte) uint8 {
	var sum uint8
	for _, b := range p[:11] {
		sum += b
	}
	return sum
}

// ParsePacket validates a candidate frame and decodes it into a Reading
// stamped with now. Validation order: length, terminator, checksum, then
// calibration. A *CalibrationError is returned together with the partially
// populated Reading; all other errors return a nil Reading.
func ParsePacket(p []byte, cal calibration.Constants, now time.Time) (*Reading, error) {
	if len(p) != PacketLength {
		return nil, &FrameLengthError{Length: len(p)}
	}
	if p[12] != Terminator {
		return nil, &FrameLengthError{Length: len(p)}
	}
	if sum := Checksum(p); sum != p[11] {
		return nil, &ChecksumError{Computed: sum, Received: p[11]}
	}

	r := &Reading{
		Timestamp:         now,
		LDRRaw:            binary.BigEndian.Uint16(p[0:2]),
		HumidityRaw:       binary.BigEndian.Uint16(p[4:6]),
		LEDOn:             p[6] == 1,
		LightAccumSeconds: binary.BigEndian.Uint32(p[7:11]),
	}
	ntcRaw := binary.BigEndian.Uint16(p[2:4])

	tempC, err := cal.TemperatureC(ntcRaw)
	if err != nil {
		return r, &CalibrationError{Field: "temperature", Err: err}
	}
	r.TemperatureC = &tempC

	humidity, err := cal.HumidityPercent(r.HumidityRaw)
	if err != nil {
		return r, &CalibrationError{Field: "humidity", Err: err}
	}
	r.HumidityPercent = &humidity

	return r, nil
}

// BuildPacket assembles a wire-format packet from raw field values. It is
// the exact inverse of ParsePacket's structural layer and exists for the
// fixture generator and tests; the host never sends binary packets to the
// node.
func BuildPacket(ldrRaw, ntcRaw, humidityRaw uint16, ledOn bool, lightAccumSeconds uint32) []byte {
	p := make([]byte, PacketLength)
	binary.BigEndian.PutUint16(p[0:2], ldrRaw)
	binary.BigEndian.PutUint16(p[2:4], ntcRaw)
	binary.BigEndian.PutUint16(p[4:6], humidityRaw)
	if ledOn {
		p[6] = 1
	}
	binary.BigEndian.PutUint32(p[7:11], lightAccumSeconds)
	p[11] = Checksum(p)
	p[12] = Terminator
	return p
}
