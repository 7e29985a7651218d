package rooms

import (
	"context"
	"sync"
	"testing"
	"time"

	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/pong"
)

type recordedResult struct {
	matchID string
	scoreL  int
	scoreR  int
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []recordedResult
}

func (f *fakeRecorder) RecordResult(_ context.Context, matchID string, scoreL, scoreR int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recordedResult{matchID: matchID, scoreL: scoreL, scoreR: scoreR})
	return nil
}

type broadcastCall struct {
	matchID string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(matchID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{matchID: matchID, event: event, payload: payload})
}

func (f *fakeBroadcaster) snapshotCalls() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

func newTestScheduler(recorder ResultRecorder, broadcaster Broadcaster) *Scheduler {
	return NewScheduler(recorder, broadcaster, Options{
		TickRate: 500,
		WinScore: 3,
		Logger:   logging.NewTestLogger(),
	})
}

func TestStartIsIdempotent(t *testing.T) {
	scheduler := newTestScheduler(&fakeRecorder{}, &fakeBroadcaster{})
	defer scheduler.Shutdown()

	scheduler.Start("match-1")
	scheduler.Start("match-1")

	if !scheduler.Running("match-1") {
		t.Fatalf("expected match-1 to be running")
	}
	if stats := scheduler.Stats(); len(stats) != 1 {
		t.Fatalf("expected exactly one active loop, got %d", len(stats))
	}
}

func TestStopIsIdempotentAndSynchronous(t *testing.T) {
	scheduler := newTestScheduler(&fakeRecorder{}, &fakeBroadcaster{})

	//1.- Stopping an id with no running loop never panics.
	scheduler.Stop("missing")

	scheduler.Start("match-2")
	scheduler.Stop("match-2")
	if scheduler.Running("match-2") {
		t.Fatalf("expected match-2 to be stopped")
	}
	//2.- After Stop returns the simulation state is gone.
	if scheduler.EnableSpeedMode("match-2") {
		t.Fatalf("speed mode must not resolve a stopped match")
	}
	scheduler.Stop("match-2")
}

func TestControlMessagesAreSilentNoOpsWithoutState(t *testing.T) {
	scheduler := newTestScheduler(&fakeRecorder{}, &fakeBroadcaster{})

	left := 0.25
	if scheduler.SetPaddles("ghost", &left, nil) {
		t.Fatalf("paddle update must not resolve an unknown room")
	}
	if scheduler.EnableSpeedMode("ghost") {
		t.Fatalf("power-up must not resolve an unknown room")
	}
}

// driveToFinish steps the match deterministically until the recorder fires.
func driveToFinish(t *testing.T, scheduler *Scheduler, matchID string, r *room, recorder *fakeRecorder) {
	t.Helper()
	//1.- Park both paddles away from the ball's arrival height so every rally is a miss.
	clear := 0.4
	r.state.SetPaddles(&clear, &clear)
	for i := 0; i < 5000; i++ {
		scheduler.step(matchID, r)
		recorder.mu.Lock()
		done := len(recorder.results) > 0
		recorder.mu.Unlock()
		if done {
			return
		}
	}
	t.Fatalf("match never finished")
}

func TestWinningTickRecordsThenBroadcastsOnce(t *testing.T) {
	recorder := &fakeRecorder{}
	broadcaster := &fakeBroadcaster{}
	scheduler := newTestScheduler(recorder, broadcaster)

	//1.- Install a room directly so the test can step the loop deterministically.
	r := &room{state: pong.NewState(), monitor: &tickMonitor{}}
	_, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	scheduler.mu.Lock()
	scheduler.rooms["match-3"] = r
	scheduler.mu.Unlock()

	driveToFinish(t, scheduler, "match-3", r, recorder)

	if len(recorder.results) != 1 {
		t.Fatalf("expected exactly one recorded result, got %d", len(recorder.results))
	}
	result := recorder.results[0]
	if result.scoreL+result.scoreR != 3 {
		t.Fatalf("unexpected final score %d-%d", result.scoreL, result.scoreR)
	}

	calls := broadcaster.snapshotCalls()
	if len(calls) == 0 {
		t.Fatalf("expected broadcasts during the match")
	}
	//2.- The winning snapshot appears exactly once, as the final broadcast.
	final := calls[len(calls)-1]
	snapshot, ok := final.payload.(pong.Snapshot)
	if !ok {
		t.Fatalf("final broadcast payload is %T", final.payload)
	}
	if !snapshot.Reached(3) {
		t.Fatalf("final snapshot has not reached the threshold: %+v", snapshot)
	}
	winning := 0
	for _, call := range calls {
		if snap, ok := call.payload.(pong.Snapshot); ok && snap.Reached(3) {
			winning++
		}
	}
	if winning != 1 {
		t.Fatalf("winning snapshot broadcast %d times", winning)
	}

	//3.- The registry entry is gone, so further control messages are no-ops.
	if scheduler.Running("match-3") {
		t.Fatalf("finished match must not remain registered")
	}
}

func TestStatsExposeTickDurations(t *testing.T) {
	scheduler := newTestScheduler(&fakeRecorder{}, &fakeBroadcaster{})
	defer scheduler.Shutdown()

	scheduler.Start("match-4")
	deadline := time.After(2 * time.Second)
	for {
		if stats := scheduler.Stats()["match-4"]; stats.Samples > 0 {
			if stats.Average <= 0 {
				t.Fatalf("expected positive average tick duration, got %v", stats.Average)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("no tick samples observed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
