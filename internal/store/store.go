package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the relational database behind the CRUD surface the lifecycle
// service needs. Per-row update atomicity is delegated to the database.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the tables for the owned models.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&User{}, &Match{})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// UserByID loads a single user.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// SaveUser inserts or updates a user record.
func (s *Store) SaveUser(ctx context.Context, user *User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

// SetPlaying flips the user's playing flag.
func (s *Store) SetPlaying(ctx context.Context, userID string, playing bool) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("is_playing", playing)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("set playing %q: %w", userID, ErrNotFound)
	}
	return nil
}

// SetExpert persists the user's expert promotion flag.
func (s *Store) SetExpert(ctx context.Context, userID string, expert bool) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("expert", expert).Error
}

// WinCount reports how many finished matches the user has won, excluding the
// given match id when provided.
func (s *Store) WinCount(ctx context.Context, userID, excludeMatchID string) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&Match{}).Where("winner_id = ?", userID)
	if excludeMatchID != "" {
		query = query.Where("id <> ?", excludeMatchID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CreateMatch persists a new match together with its player associations.
func (s *Store) CreateMatch(ctx context.Context, match *Match) error {
	return s.db.WithContext(ctx).Create(match).Error
}

// MatchByID loads a match with its owner, players, and winner attached.
func (s *Store) MatchByID(ctx context.Context, id string) (*Match, error) {
	var match Match
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Players").Preload("Winner").
		First(&match, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &match, nil
}

// AddPlayer appends a second participant, marks the match full, and applies
// the supplied status, returning the refreshed record.
func (s *Store) AddPlayer(ctx context.Context, matchID string, user *User, status string) (*Match, error) {
	match, err := s.MatchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(match).Association("Players").Append(user); err != nil {
		return nil, err
	}
	updates := map[string]any{"full": true, "status": status}
	if err := s.db.WithContext(ctx).Model(match).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.MatchByID(ctx, matchID)
}

// UpdateStatus applies a lifecycle status and returns the refreshed match.
func (s *Store) UpdateStatus(ctx context.Context, matchID, status string) (*Match, error) {
	result := s.db.WithContext(ctx).Model(&Match{}).Where("id = ?", matchID).Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("update status %q: %w", matchID, ErrNotFound)
	}
	return s.MatchByID(ctx, matchID)
}

// UpdateMode applies a game mode and returns the refreshed match.
func (s *Store) UpdateMode(ctx context.Context, matchID, mode string) (*Match, error) {
	result := s.db.WithContext(ctx).Model(&Match{}).Where("id = ?", matchID).Update("mode", mode)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("update mode %q: %w", matchID, ErrNotFound)
	}
	return s.MatchByID(ctx, matchID)
}

// SetResult stores the final scores and winner and seals the match.
func (s *Store) SetResult(ctx context.Context, matchID string, scoreL, scoreR int, winnerID string) (*Match, error) {
	updates := map[string]any{
		"score_l":   scoreL,
		"score_r":   scoreR,
		"winner_id": winnerID,
		"finished":  true,
		"status":    StatusEnded,
	}
	result := s.db.WithContext(ctx).Model(&Match{}).Where("id = ?", matchID).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("set result %q: %w", matchID, ErrNotFound)
	}
	return s.MatchByID(ctx, matchID)
}

// FirstOpenPublicMatch returns the non-full public match with the lowest
// queue position, or ErrNotFound.
func (s *Store) FirstOpenPublicMatch(ctx context.Context) (*Match, error) {
	var match Match
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Players").
		Where("full = ? AND type = ?", false, VisibilityPublic).
		Order("position asc").
		First(&match).Error
	if err != nil {
		return nil, translate(err)
	}
	return &match, nil
}

// MaxPosition returns the highest queue position currently assigned; ok is
// false when no matches exist yet.
func (s *Store) MaxPosition(ctx context.Context) (int, bool, error) {
	var match Match
	err := s.db.WithContext(ctx).Select("position").Order("position desc").First(&match).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return match.Position, true, nil
}

// MatchForPlayer returns the user's most recent match with the given status,
// or ErrNotFound.
func (s *Store) MatchForPlayer(ctx context.Context, userID, status string) (*Match, error) {
	var match Match
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Players").
		Joins("JOIN match_players ON match_players.match_id = matches.id").
		Where("match_players.user_id = ? AND matches.status = ?", userID, status).
		Order("matches.updated_at desc").
		First(&match).Error
	if err != nil {
		return nil, translate(err)
	}
	return &match, nil
}
