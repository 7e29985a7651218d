package main

import "encoding/json"

// Inbound client events.
const (
	eventCreateInviteGame = "createAnInviteGame"
	eventJoinInvitation   = "joinInvitation"
	eventJoinGame         = "joinGame"
	eventStartPowerUp     = "startPowerUp"
	eventPaddleMove       = "paddleMove"
)

// Outbound events.
const (
	eventJoinedGame           = "joinedGame"
	eventCreatedGame          = "createdGame"
	eventInvitedPlayer        = "invitedPlayer"
	eventOpponentDisconnected = "opponentDisconnected"
	eventReconnectionError    = "reconnection_error"
	eventUpdateMode           = "updateMode"
	eventError                = "error"
)

// inviteQueuePosition parks private invite matches far past the public
// matchmaking queue positions.
const inviteQueuePosition = 5000

// envelope frames every message in both directions: a named event plus its
// JSON payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// response answers a request/response event. Failures carry a human-readable
// reason in StatusText; clients are expected to re-invoke on failure.
type response struct {
	OK         bool   `json:"ok"`
	StatusText string `json:"statusText"`
}

// invitePayload names the invitee for createAnInviteGame.
type invitePayload struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// powerUpPayload arms the speed power-up for a room.
type powerUpPayload struct {
	Room    string `json:"room"`
	IsSpeed bool   `json:"isSpeed"`
}

// paddlePayload carries paddle positions. Pointer fields distinguish "not
// sent" from an explicit zero position, so a paddle parked at the top edge is
// still settable.
type paddlePayload struct {
	Room  string   `json:"room"`
	YPadL *float64 `json:"yPadL"`
	YPadR *float64 `json:"yPadR"`
}
