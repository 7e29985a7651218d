package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/store"
)

// ErrNotFound is surfaced when a match or player identity cannot be resolved.
var ErrNotFound = store.ErrNotFound

// ErrMatchFull rejects joins once a match already holds two players.
var ErrMatchFull = errors.New("match already has two players")

// PresenceNotifier fans player status changes out to the social application.
// It is invoked after every playing-flag mutation.
type PresenceNotifier interface {
	PlayerStatusChanged()
}

// NopPresence discards presence notifications; used when the social side is absent.
type NopPresence struct{}

// PlayerStatusChanged implements PresenceNotifier.
func (NopPresence) PlayerStatusChanged() {}

// Service implements the match lifecycle against the persistent store:
// creation, pairing, pause/resume, scoring, and completion.
type Service struct {
	store    *store.Store
	presence PresenceNotifier
	log      *logging.Logger
}

// NewService binds the lifecycle operations to a store and presence hook.
func NewService(st *store.Store, presence PresenceNotifier, logger *logging.Logger) *Service {
	if presence == nil {
		presence = NopPresence{}
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Service{store: st, presence: presence, log: logger}
}

// Create persists a new match with the owner as its sole initial player.
func (s *Service) Create(ctx context.Context, owner *store.User, position int, speedMode bool, visibility string) (*store.Match, error) {
	if owner == nil {
		return nil, errors.New("match owner required")
	}
	mode := store.ModeClassic
	if speedMode {
		mode = store.ModeSpeed
	}
	match := &store.Match{
		ID:       uuid.NewString(),
		Name:     uuid.NewString(),
		OwnerID:  owner.ID,
		Players:  []store.User{*owner},
		Position: position,
		Type:     visibility,
		Mode:     mode,
		Status:   store.StatusPause,
	}
	if err := s.store.CreateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	return s.store.MatchByID(ctx, match.ID)
}

// Join adds the user as second player and marks the match full. The match
// goes LIVE when the first player is currently marked playing, PAUSE otherwise.
func (s *Service) Join(ctx context.Context, user *store.User, matchID string) (*store.Match, error) {
	if user == nil {
		return nil, errors.New("joining user required")
	}
	match, err := s.store.MatchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	//1.- A match seats two players at most; a second join seals it.
	if match.Full || len(match.Players) >= 2 {
		return nil, fmt.Errorf("join match %q: %w", matchID, ErrMatchFull)
	}
	status := store.StatusPause
	if len(match.Players) > 0 && match.Players[0].IsPlaying {
		status = store.StatusLive
	}
	return s.store.AddPlayer(ctx, matchID, user, status)
}

// FindOpen returns the lowest-queue-position non-full public match, or nil
// when no open match exists.
func (s *Service) FindOpen(ctx context.Context) (*store.Match, error) {
	match, err := s.store.FirstOpenPublicMatch(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// NextQueuePosition returns the current maximum position plus one, or one
// when no matches exist yet.
func (s *Service) NextQueuePosition(ctx context.Context) (int, error) {
	position, ok, err := s.store.MaxPosition(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return position + 1, nil
}

// RecordResult seals the match: scores and winner are persisted, the status
// becomes ENDED, the winner's expert promotion is recomputed, and both
// players' playing flags are cleared.
func (s *Service) RecordResult(ctx context.Context, matchID string, scoreL, scoreR int) error {
	match, err := s.store.MatchByID(ctx, matchID)
	if err != nil {
		return err
	}

	//1.- Resolve the winner: the owner when the right score leads, else the opponent.
	winnerID := ""
	if scoreR > scoreL {
		winnerID = match.OwnerID
	} else if opponent := match.OpponentOf(match.OwnerID); opponent != nil {
		winnerID = opponent.ID
	}
	if winnerID == "" {
		return fmt.Errorf("resolve winner for match %q: %w", matchID, ErrNotFound)
	}

	sealed, err := s.store.SetResult(ctx, matchID, scoreL, scoreR, winnerID)
	if err != nil {
		return err
	}

	//2.- Promote the winner to expert once they hold a prior win.
	priorWins, err := s.store.WinCount(ctx, winnerID, matchID)
	if err != nil {
		return err
	}
	if err := s.store.SetExpert(ctx, winnerID, priorWins > 0); err != nil {
		return err
	}

	//3.- Both participants leave the playing state; tell the presence system.
	for _, player := range sealed.Players {
		if err := s.MarkPlaying(ctx, player.ID, false); err != nil {
			return err
		}
	}

	s.log.Info("match result recorded",
		logging.String("match_id", matchID),
		logging.Int("score_l", scoreL),
		logging.Int("score_r", scoreR),
		logging.String("winner_id", winnerID))
	return nil
}

// Pause sets the match status to PAUSE; used when a player disconnects.
func (s *Service) Pause(ctx context.Context, matchID string) (*store.Match, error) {
	return s.store.UpdateStatus(ctx, matchID, store.StatusPause)
}

// SetStatus applies an explicit lifecycle status, returning the refreshed match.
func (s *Service) SetStatus(ctx context.Context, matchID, status string) (*store.Match, error) {
	return s.store.UpdateStatus(ctx, matchID, status)
}

// SetSpeedMode persists the SPEED game mode on the match record.
func (s *Service) SetSpeedMode(ctx context.Context, matchID string) (*store.Match, error) {
	return s.store.UpdateMode(ctx, matchID, store.ModeSpeed)
}

// MarkPlaying flips the user's playing flag and notifies the presence system.
func (s *Service) MarkPlaying(ctx context.Context, userID string, playing bool) error {
	if err := s.store.SetPlaying(ctx, userID, playing); err != nil {
		return err
	}
	s.presence.PlayerStatusChanged()
	return nil
}

// PausedMatchFor returns the user's most recent paused match, or nil.
func (s *Service) PausedMatchFor(ctx context.Context, userID string) (*store.Match, error) {
	match, err := s.store.MatchForPlayer(ctx, userID, store.StatusPause)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// LiveMatchFor returns the user's current live match, or nil.
func (s *Service) LiveMatchFor(ctx context.Context, userID string) (*store.Match, error) {
	match, err := s.store.MatchForPlayer(ctx, userID, store.StatusLive)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// InLiveMatch reports whether the user currently participates in a LIVE match.
func (s *Service) InLiveMatch(ctx context.Context, userID string) (bool, error) {
	match, err := s.LiveMatchFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return match != nil, nil
}

// IsPlaying reports the user's playing flag; unknown users count as not playing.
func (s *Service) IsPlaying(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsPlaying, nil
}

// User resolves a player identity by id.
func (s *Service) User(ctx context.Context, userID string) (*store.User, error) {
	return s.store.UserByID(ctx, userID)
}
