// Package telemetry frames and decodes the binary packets the greenhouse
// node emits once per second over its UART.
package telemetry

import "bytes"

const (
	// PacketLength is the only valid frame size. Bytes 0-10 are payload,
	// byte 11 the checksum, byte 12 the terminator.
	PacketLength = 13

	// Terminator closes every packet.
	Terminator = 0xAA
)

// ScanPackets is a bufio.SplitFunc that splits the raw byte stream after
// each terminator, delivering everything read since the previous terminator
// (inclusive) as one candidate frame. Candidates of the wrong length are the
// decoder's problem; the stream resynchronizes on the next terminator.
//
// The firmware neither escapes nor length-prefixes the payload, so a data
// byte that happens to equal the terminator causes a false frame boundary.
// The short candidates that result fail the length check and are dropped;
// this matches the deployed protocol and is kept for compatibility.
func ScanPackets(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, Terminator); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF && len(data) > 0 {
		// Unterminated trailing bytes: hand them up so the decoder can
		// reject them instead of silently losing them.
		return len(data), data, nil
	}
	return 0, nil, nil
}
