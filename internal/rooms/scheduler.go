package rooms

import (
	"context"
	"sync"
	"time"

	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/pong"
)

// EventGameState is the outbound event carrying per-tick snapshots.
const EventGameState = "gameStateUpdate"

// Broadcaster fans an event out to every connection joined to a match group.
type Broadcaster interface {
	Broadcast(matchID, event string, payload any)
}

// ResultRecorder persists the final scores once a match reaches the win threshold.
type ResultRecorder interface {
	RecordResult(ctx context.Context, matchID string, scoreL, scoreR int) error
}

// MatchJournal receives observational artefacts for one running match.
type MatchJournal interface {
	Event(tick uint64, eventType string, payload any)
	Frame(tick uint64, snapshot pong.Snapshot)
	Close() error
}

// JournalOpener creates a journal for a match when its loop starts.
type JournalOpener interface {
	Open(matchID string) (MatchJournal, error)
}

// Options configures a Scheduler.
type Options struct {
	TickRate     float64
	WinScore     int
	StoreTimeout time.Duration
	Journals     JournalOpener
	Logger       *logging.Logger
}

// Scheduler owns the registry of running match simulations. It guarantees at
// most one tick loop per match id, with idempotent Start and Stop.
type Scheduler struct {
	mu    sync.Mutex
	rooms map[string]*room

	tickRate     float64
	winScore     int
	storeTimeout time.Duration

	recorder    ResultRecorder
	broadcaster Broadcaster
	journals    JournalOpener
	log         *logging.Logger
}

type room struct {
	state   *pong.State
	loop    *loop
	cancel  context.CancelFunc
	monitor *tickMonitor
	journal MatchJournal
	tick    uint64
}

// NewScheduler constructs a scheduler bound to the given recorder and broadcaster.
func NewScheduler(recorder ResultRecorder, broadcaster Broadcaster, opts Options) *Scheduler {
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}
	if opts.WinScore <= 0 {
		opts.WinScore = 3
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Scheduler{
		rooms:        make(map[string]*room),
		tickRate:     opts.TickRate,
		winScore:     opts.WinScore,
		storeTimeout: opts.StoreTimeout,
		recorder:     recorder,
		broadcaster:  broadcaster,
		journals:     opts.Journals,
		log:          logger,
	}
}

// Start launches the tick loop for the match, allocating its simulation state
// lazily. Calling Start on an already-running match id is a safe no-op.
func (s *Scheduler) Start(matchID string) {
	if s == nil || matchID == "" {
		return
	}
	s.mu.Lock()
	if _, running := s.rooms[matchID]; running {
		s.mu.Unlock()
		return
	}

	r := &room{state: pong.NewState(), monitor: &tickMonitor{}}
	if s.journals != nil {
		journal, err := s.journals.Open(matchID)
		if err != nil {
			s.log.Warn("match journal unavailable", logging.String("match_id", matchID), logging.Error(err))
		} else {
			r.journal = journal
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.loop = newLoop(s.tickRate, func() { s.step(matchID, r) })
	s.rooms[matchID] = r
	s.mu.Unlock()

	s.log.Info("match loop started", logging.String("match_id", matchID))
	r.loop.start(ctx)
}

// Stop terminates the match loop and discards its simulation state. Once Stop
// returns no further ticks for the match occur. Stopping an id with no
// running loop is a no-op.
func (s *Scheduler) Stop(matchID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	r, running := s.rooms[matchID]
	if running {
		delete(s.rooms, matchID)
	}
	s.mu.Unlock()
	if !running {
		return
	}

	//1.- Cancel the loop context and wait for the goroutine to drain.
	r.cancel()
	r.loop.wait()
	s.closeJournal(matchID, r)
	s.log.Info("match loop stopped", logging.String("match_id", matchID))
}

// step advances one tick: physics, win detection, persistence, broadcast.
func (s *Scheduler) step(matchID string, r *room) {
	started := time.Now()
	r.tick++
	snapshot := r.state.Advance()

	if r.journal != nil {
		r.journal.Frame(r.tick, snapshot)
	}

	if snapshot.Reached(s.winScore) {
		s.finish(matchID, r, snapshot)
		r.monitor.observe(time.Since(started))
		return
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(matchID, EventGameState, snapshot)
	}
	r.monitor.observe(time.Since(started))
}

// finish records the result, retires the loop, and sends the winning snapshot
// exactly once, all within the winning tick.
func (s *Scheduler) finish(matchID string, r *room, snapshot pong.Snapshot) {
	//1.- Persist the final result before anything is announced to clients.
	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		if err := s.recorder.RecordResult(ctx, matchID, snapshot.ScoreL, snapshot.ScoreR); err != nil {
			s.log.Error("failed to record match result",
				logging.String("match_id", matchID),
				logging.Int("score_l", snapshot.ScoreL),
				logging.Int("score_r", snapshot.ScoreR),
				logging.Error(err))
		}
		cancel()
	}

	//2.- Retire the registry entry from inside the tick; the loop goroutine
	// observes the cancelled context and exits after this step returns.
	s.mu.Lock()
	if current, ok := s.rooms[matchID]; ok && current == r {
		delete(s.rooms, matchID)
	}
	s.mu.Unlock()
	r.cancel()

	if r.journal != nil {
		r.journal.Event(r.tick, "matchEnded", snapshot)
	}
	s.closeJournal(matchID, r)

	//3.- Clients receive the winning snapshot exactly once, after persistence.
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(matchID, EventGameState, snapshot)
	}
	s.log.Info("match finished",
		logging.String("match_id", matchID),
		logging.Int("score_l", snapshot.ScoreL),
		logging.Int("score_r", snapshot.ScoreR))
}

func (s *Scheduler) closeJournal(matchID string, r *room) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Close(); err != nil {
		s.log.Warn("match journal close failed", logging.String("match_id", matchID), logging.Error(err))
	}
	r.journal = nil
}

// Running reports whether a tick loop currently exists for the match.
func (s *Scheduler) Running(matchID string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[matchID]
	return ok
}

// EnableSpeedMode arms the power-up on the match's simulation. The call is a
// silent no-op when no simulation is running for the id.
func (s *Scheduler) EnableSpeedMode(matchID string) bool {
	state := s.lookup(matchID)
	if state == nil {
		return false
	}
	state.EnableSpeedMode()
	return true
}

// SetPaddles applies paddle positions to the match's simulation. Nil fields
// mean "no update". The call is a silent no-op when no simulation is running.
func (s *Scheduler) SetPaddles(matchID string, left, right *float64) bool {
	state := s.lookup(matchID)
	if state == nil {
		return false
	}
	state.SetPaddles(left, right)
	return true
}

func (s *Scheduler) lookup(matchID string) *pong.State {
	if s == nil || matchID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[matchID]
	if !ok {
		return nil
	}
	return r.state
}

// Stats returns per-match tick timing statistics for the running loops.
func (s *Scheduler) Stats() map[string]TickStats {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string]TickStats, len(s.rooms))
	for id, r := range s.rooms {
		stats[id] = r.monitor.stats()
	}
	return stats
}

// Shutdown stops every running loop, used during server teardown.
func (s *Scheduler) Shutdown() {
	if s == nil {
		return
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}
