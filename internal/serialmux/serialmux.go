// Package serialmux owns the serial connection to the greenhouse node. It is
// the only component that reads or writes the handle: a single monitor
// goroutine frames the inbound byte stream and fans candidate frames out to
// subscribers, while outbound command lines are serialized behind a mutex
// with a minimum inter-line delay so concurrent writers can never interleave
// bytes on the wire.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/verdant-data/greenhouse.report/internal/monitoring"
	"github.com/verdant-data/greenhouse.report/internal/telemetry"
	"github.com/verdant-data/greenhouse.report/internal/timeutil"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

const (
	// interCommandDelay is the minimum gap between command lines. The
	// firmware parses one line per loop iteration; writing faster than this
	// drops commands. This pacing is a correctness requirement, not a
	// convenience.
	interCommandDelay = 100 * time.Millisecond

	// readRetryDelay is how long the monitor waits after a read fault
	// before retrying on the same handle. The device is never reopened;
	// the OS keeps the handle valid across transient glitches.
	readRetryDelay = 5 * time.Second

	// staleAfter is how long the link may go without a frame before Status
	// reports it down. The node transmits once per second.
	staleAfter = 10 * time.Second
)

// LinkStatus is the link-availability snapshot exposed to the UI. The decode
// path never surfaces faults upward; this flag is the only user-visible
// failure state.
type LinkStatus struct {
	Connected   bool      `json:"connected"`
	LastFrameAt time.Time `json:"last_frame_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// SerialMux is a generic serial port multiplexer that allows multiple
// clients to subscribe to telemetry frames from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	clock        timeutil.Clock
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statusMu    sync.Mutex
	lastFrameAt time.Time
	lastErr     error
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving candidate frames from
	// the serial port. The returned ID identifies the channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes one command line to the serial port.
	SendCommand(string) error
	// SendCommands writes a sequence of command lines as one atomic,
	// paced unit.
	SendCommands([]string) error
	// Monitor reads frames from the serial port and fans them out to
	// subscribers until the context is cancelled.
	Monitor(context.Context) error
	// Status reports link availability.
	Status() LinkStatus
	// Close closes all subscribed channels and the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given
	// HTTP mux under /debug/. These are reachable only over
	// localhost/Tailscale, never publicly.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		clock:       timeutil.RealClock{},
		subscribers: make(map[string]chan []byte),
	}
}

// SetClock replaces the mux clock. Intended for tests that need to observe
// pacing and backoff without real sleeps.
func (s *SerialMux[T]) SetClock(c timeutil.Clock) { s.clock = c }

// randomID generates a random channel ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	// Small buffer so a consumer that is momentarily busy does not drop
	// frames; the node only transmits once per second.
	ch := make(chan []byte, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes a single command line to the serial port. The command
// mutex guarantees the line's bytes are never interleaved with another
// writer's; the firmware protocol has no framing beyond the newline, so a
// torn write would silently corrupt its state.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.writeLine(command)
}

// SendCommands writes a sequence of command lines while holding the command
// mutex for the whole sequence, pausing interCommandDelay between lines to
// give the firmware time to parse each one.
func (s *SerialMux[T]) SendCommands(commands []string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	for i, command := range commands {
		if i > 0 {
			s.clock.Sleep(interCommandDelay)
		}
		if err := s.writeLine(command); err != nil {
			return fmt.Errorf("command %d of %d: %w", i+1, len(commands), err)
		}
	}
	return nil
}

// writeLine must be called with commandMu held.
func (s *SerialMux[T]) writeLine(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Status reports whether the link is currently delivering frames.
func (s *SerialMux[T]) Status() LinkStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := LinkStatus{LastFrameAt: s.lastFrameAt}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	st.Connected = !s.lastFrameAt.IsZero() &&
		s.clock.Since(s.lastFrameAt) < staleAfter &&
		s.lastErr == nil
	return st
}

func (s *SerialMux[T]) recordFrame() {
	s.statusMu.Lock()
	s.lastFrameAt = s.clock.Now()
	s.lastErr = nil
	s.statusMu.Unlock()
}

func (s *SerialMux[T]) recordError(err error) {
	s.statusMu.Lock()
	s.lastErr = err
	s.statusMu.Unlock()
}

// Monitor reads candidate frames from the serial port and fans them out to
// subscribers. Read faults are logged and retried on the same handle after
// readRetryDelay; the loop only exits on context cancellation or when the
// port reports a clean EOF (closed, or a fixture stream exhausted).
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	frameChan := make(chan []byte)
	go func() {
		defer close(frameChan)
		for {
			// A fresh scanner per attempt drops any partial frame that
			// straddled the fault; the stream resynchronizes on the next
			// terminator.
			scan := bufio.NewScanner(s.port)
			scan.Split(telemetry.ScanPackets)
			for scan.Scan() {
				frame := append([]byte(nil), scan.Bytes()...)
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return
				}
			}
			err := scan.Err()
			if err == nil {
				return // EOF
			}

			s.recordError(err)
			monitoring.Logf("serial read fault (retrying in %s on the same handle): %v", readRetryDelay, err)
			select {
			case <-s.clock.After(readRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-frameChan:
			// A closed channel means the reader goroutine is done.
			if !ok {
				return nil
			}

			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.recordFrame()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- frame:
				default:
					// Skip a full/blocked subscriber rather than stall
					// the read loop.
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the serial port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

// AttachAdminRoutes mounts the serial debugging endpoints.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write a raw command line to the node.
	debug.HandleSilentFunc("send-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// SSE stream of raw frames, hex encoded, for live protocol debugging.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Initial ping to establish the stream.
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(frame)); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
