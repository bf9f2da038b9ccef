package serialmux

import "io"

// SerialPorter is the minimal interface the mux needs from a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
