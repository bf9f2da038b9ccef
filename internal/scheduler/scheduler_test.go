package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/verdant-data/greenhouse.report/internal/calibration"
	"github.com/verdant-data/greenhouse.report/internal/command"
	"github.com/verdant-data/greenhouse.report/internal/timeutil"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *recordingSink) SendCommand(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func newTestScheduler(sink *recordingSink) *Scheduler {
	enc := command.NewEncoder(calibration.Default(), 2000)
	return New(sink, enc, 1, 23)
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestTickInsideWindow(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	s.tick(at(12, 30))

	want := []string{"SET,FOTO,1"}
	if diff := cmp.Diff(want, sink.Lines()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestTickOutsideWindow(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	// 00:30 is before the window opens, 23:15 after it closes.
	s.tick(at(0, 30))
	s.tick(at(23, 15))

	want := []string{"SET,FOTO,0", "SET,FOTO,0"}
	if diff := cmp.Diff(want, sink.Lines()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestTickWindowBoundaries(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	s.tick(at(1, 0))  // first minute inside
	s.tick(at(22, 59))
	s.tick(at(23, 0)) // first minute outside

	want := []string{"SET,FOTO,1", "SET,FOTO,1", "SET,FOTO,0"}
	if diff := cmp.Diff(want, sink.Lines()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestMidnightResetsLightTimer(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	s.tick(at(0, 0))

	want := []string{"RESET,TIMER_LUZ", "SET,FOTO,0"}
	if diff := cmp.Diff(want, sink.Lines()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	// The minute after midnight must not reset again.
	s.tick(at(0, 1))
	if got := sink.Lines(); len(got) != 3 || got[2] != "SET,FOTO,0" {
		t.Errorf("unexpected commands after 00:01 tick: %v", got)
	}
}

func TestRecordCallbackSeesEveryLine(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	var recorded []string
	s.Record = func(line string) { recorded = append(recorded, line) }

	s.tick(at(0, 0))
	if diff := cmp.Diff(sink.Lines(), recorded); diff != "" {
		t.Errorf("recorded lines diverge from sent lines (-sent +recorded):\n%s", diff)
	}
}

func TestRecordSkippedOnSendFailure(t *testing.T) {
	sink := &recordingSink{err: context.DeadlineExceeded}
	s := newTestScheduler(sink)

	var recorded []string
	s.Record = func(line string) { recorded = append(recorded, line) }

	s.tick(at(12, 0))
	if len(recorded) != 0 {
		t.Errorf("failed sends must not be recorded, got %v", recorded)
	}
}

func TestRunTicksAndStops(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink)

	clock := timeutil.NewMockClock(at(11, 59))
	s.SetClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Crossing the minute boundary fires the ticker.
	clock.Advance(time.Minute)

	deadline := time.After(2 * time.Second)
	for len(sink.Lines()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a scheduled command")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if got := sink.Lines()[0]; got != "SET,FOTO,1" {
		t.Errorf("first scheduled command = %q, want SET,FOTO,1", got)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
