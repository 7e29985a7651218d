package store

import "time"

// Match visibility kinds.
const (
	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
)

// Match modes.
const (
	ModeClassic = "CLASSIC"
	ModeSpeed   = "SPEED"
)

// Match lifecycle statuses. Ended is terminal.
const (
	StatusPause = "PAUSE"
	StatusLive  = "LIVE"
	StatusEnded = "ENDED"
)

// User mirrors the social application's player record. This service owns only
// the playing/expert flags; everything else is written by the social app.
type User struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Nickname  string `gorm:"not null" json:"nickname"`
	IsPlaying bool   `gorm:"default:false" json:"isPlaying"`
	Online    bool   `gorm:"default:false" json:"online"`
	Expert    bool   `gorm:"default:false" json:"expert"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Match identifies one game instance and its persisted lifecycle.
type Match struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	OwnerID string `gorm:"index;not null" json:"ownerId"`
	Owner   *User  `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`

	// Players holds at most two identities including the owner.
	Players []User `gorm:"many2many:match_players" json:"players"`

	// Position orders open public matches for matchmaking fairness.
	Position int    `gorm:"index" json:"position"`
	Type     string `gorm:"type:varchar(16);default:'PUBLIC'" json:"type"`
	Mode     string `gorm:"type:varchar(16);default:'CLASSIC'" json:"mode"`
	Status   string `gorm:"type:varchar(16);index;default:'PAUSE'" json:"status"`
	Full     bool   `gorm:"default:false" json:"full"`

	ScoreL   int  `gorm:"default:0" json:"scoreL"`
	ScoreR   int  `gorm:"default:0" json:"scoreR"`
	Finished bool `gorm:"default:false" json:"finished"`

	WinnerID *string `gorm:"index" json:"winnerId,omitempty"`
	Winner   *User   `gorm:"foreignKey:WinnerID" json:"winner,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlayerByID returns the player with the given id, or nil.
func (m *Match) PlayerByID(id string) *User {
	if m == nil {
		return nil
	}
	for i := range m.Players {
		if m.Players[i].ID == id {
			return &m.Players[i]
		}
	}
	return nil
}

// OpponentOf returns the player other than the given id, or nil when the
// match still has a single participant.
func (m *Match) OpponentOf(id string) *User {
	if m == nil {
		return nil
	}
	for i := range m.Players {
		if m.Players[i].ID != id {
			return &m.Players[i]
		}
	}
	return nil
}
