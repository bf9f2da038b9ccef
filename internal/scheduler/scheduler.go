// Package scheduler drives the clock-based automation: the daily reset of
// the firmware's light accumulator at midnight, and enabling photoperiod
// control only inside the configured daily window. The node has no RTC, so
// wall-clock decisions live here.
package scheduler

import (
	"context"
	"time"

	"github.com/verdant-data/greenhouse.report/internal/command"
	"github.com/verdant-data/greenhouse.report/internal/monitoring"
	"github.com/verdant-data/greenhouse.report/internal/timeutil"
)

// CommandSink receives the command lines the scheduler emits. Satisfied by
// the serial mux.
type CommandSink interface {
	SendCommand(string) error
}

// Scheduler ticks once a minute and pushes time-derived commands to the
// node. It resends the photoperiod flag on every tick; the line is cheap
// and resending makes the node converge after a reboot without extra state
// tracking here.
type Scheduler struct {
	sink    CommandSink
	enc     *command.Encoder
	clock   timeutil.Clock
	onHour  int
	offHour int

	// Record, if set, is called with every command line written, for the
	// audit log.
	Record func(commandLine string)
}

// New creates a scheduler with the given photoperiod window. The window is
// [onHour, offHour) in the server's local time.
func New(sink CommandSink, enc *command.Encoder, onHour, offHour int) *Scheduler {
	return &Scheduler{
		sink:    sink,
		enc:     enc,
		clock:   timeutil.RealClock{},
		onHour:  onHour,
		offHour: offHour,
	}
}

// SetClock replaces the scheduler clock. Intended for tests.
func (s *Scheduler) SetClock(c timeutil.Clock) { s.clock = c }

// Run ticks once a minute until the context is cancelled. Write failures are
// logged and retried on the next tick; the link supervisor owns fault
// recovery.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.tick(now)
		}
	}
}

// tick evaluates the wall clock once. Exported through Run; split out so
// tests can drive exact times.
func (s *Scheduler) tick(now time.Time) {
	if now.Hour() == 0 && now.Minute() == 0 {
		s.send(s.enc.ResetLightTimer())
	}
	inWindow := now.Hour() >= s.onHour && now.Hour() < s.offHour
	s.send(s.enc.Photoperiod(inWindow))
}

func (s *Scheduler) send(line string) {
	if err := s.sink.SendCommand(line); err != nil {
		monitoring.Logf("scheduler: failed to send %q: %v", line, err)
		return
	}
	if s.Record != nil {
		s.Record(line)
	}
}
