package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *captureSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func validEvent(stage Stage) Event {
	evt := Event{
		JobID: "job-1",
		TS:    time.Now().UTC(),
		Stage: stage,
	}
	if stage == StageJobDone {
		evt.Status = "SUCCEEDED"
	}
	return evt
}

func TestHubDeliversBatches(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent(StageJobStart))
	hub.Emit(validEvent(StageJobCheckpoint))
	hub.Emit(validEvent(StageJobDone))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.isClosed())
}

func TestHubFlushesOnClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	// A long batch wait forces the flush to happen during Close.
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	hub.Emit(validEvent(StageJobStart))
	hub.Emit(validEvent(StageJobDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.snapshot(), 2)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{Stage: StageJobStart}) // missing job id and timestamp
	hub.Emit(validEvent(StageJobStart))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageJobStart))
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"valid start", validEvent(StageJobStart), false},
		{"valid done", validEvent(StageJobDone), false},
		{"missing job id", Event{TS: time.Now(), Stage: StageJobStart}, true},
		{"missing timestamp", Event{JobID: "j", Stage: StageJobStart}, true},
		{"done without status", Event{JobID: "j", TS: time.Now(), Stage: StageJobDone}, true},
		{"unknown stage", Event{JobID: "j", TS: time.Now(), Stage: "WAT"}, true},
		{"negative duration", Event{JobID: "j", TS: time.Now(), Stage: StageJobStart, Dur: -time.Second}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(validEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}
