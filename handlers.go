package main

import (
	"encoding/json"
	"errors"

	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/match"
	"paddlearena/gameserver/internal/store"
)

// dispatch routes one inbound message to its handler. Request/response
// events answer on "<event>Result"; control events answer nothing.
func (g *Gateway) dispatch(sess *session, raw []byte) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.sendTo(sess, eventError, "Malformed message")
		return
	}
	switch msg.Event {
	case eventCreateInviteGame:
		g.handleCreateInviteGame(sess, msg.Data)
	case eventJoinInvitation:
		g.handleJoinInvitation(sess, msg.Data)
	case eventJoinGame:
		g.handleJoinGame(sess)
	case eventStartPowerUp:
		g.handleStartPowerUp(sess, msg.Data)
	case eventPaddleMove:
		g.handlePaddleMove(msg.Data)
	default:
		g.sendTo(sess, eventError, "Unknown event")
	}
}

func (g *Gateway) respond(sess *session, event string, ok bool, statusText string) {
	g.sendTo(sess, event+"Result", response{OK: ok, StatusText: statusText})
}

// handleCreateInviteGame creates a PRIVATE match against a named invitee.
func (g *Gateway) handleCreateInviteGame(sess *session, data json.RawMessage) {
	reply := func(ok bool, statusText string) {
		g.respond(sess, eventCreateInviteGame, ok, statusText)
	}
	var body invitePayload
	if err := json.Unmarshal(data, &body); err != nil {
		reply(false, "Malformed invitation")
		return
	}
	ctx, cancel := g.opCtx()
	defer cancel()

	//1.- Neither participant may already be engaged elsewhere.
	if playing, err := g.service.IsPlaying(ctx, sess.userID); err != nil {
		reply(false, "Error with the database")
		return
	} else if playing {
		reply(false, "User inviting is already in a Game")
		return
	}
	if playing, err := g.service.IsPlaying(ctx, body.ID); err != nil {
		reply(false, "Error with the database")
		return
	} else if playing {
		reply(false, "User invited is already in a Game")
		return
	}
	if inLive, err := g.service.InLiveMatch(ctx, sess.userID); err != nil {
		reply(false, "Error with the database")
		return
	} else if inLive {
		reply(false, "User already in a Live Game")
		return
	}

	owner, err := g.service.User(ctx, sess.userID)
	if err != nil {
		reply(false, "Error with the database")
		return
	}
	//2.- Invite matches sit outside the matchmaking queue at a fixed position.
	created, err := g.service.Create(ctx, owner, inviteQueuePosition, false, store.VisibilityPrivate)
	if err != nil {
		reply(false, "Error in creating the game in the DB.")
		return
	}
	if err := g.service.MarkPlaying(ctx, sess.userID, true); err != nil {
		reply(false, "Error with the database")
		return
	}

	g.joinGroup(sess, created.ID)
	g.Broadcast(created.ID, eventCreatedGame, created)
	g.Broadcast(created.ID, eventInvitedPlayer, body.Nickname)
	reply(true, "")
}

// handleJoinInvitation joins the requester to a named private match and
// starts its simulation.
func (g *Gateway) handleJoinInvitation(sess *session, data json.RawMessage) {
	reply := func(ok bool, statusText string) {
		g.respond(sess, eventJoinInvitation, ok, statusText)
	}
	var matchID string
	if err := json.Unmarshal(data, &matchID); err != nil || matchID == "" {
		reply(false, "Malformed invitation")
		return
	}
	ctx, cancel := g.opCtx()
	defer cancel()

	if inLive, err := g.service.InLiveMatch(ctx, sess.userID); err != nil {
		reply(false, "Error with the database")
		return
	} else if inLive {
		reply(false, "User already in a Live Game")
		return
	}

	user, err := g.service.User(ctx, sess.userID)
	if err != nil {
		reply(false, "Error with the database")
		return
	}
	updated, err := g.service.Join(ctx, user, matchID)
	if errors.Is(err, match.ErrMatchFull) {
		reply(false, "Game is already full")
		return
	}
	if err != nil {
		reply(false, "Error updating the game with the user.")
		return
	}
	if err := g.service.MarkPlaying(ctx, sess.userID, true); err != nil {
		reply(false, "Error with the database")
		return
	}

	g.joinGroup(sess, updated.ID)
	g.Broadcast(updated.ID, eventJoinedGame, updated)
	g.sched.Start(updated.ID)
	reply(true, "")
}

// handleJoinGame runs open matchmaking: join the oldest open public match,
// or queue a fresh one when none exists.
func (g *Gateway) handleJoinGame(sess *session) {
	reply := func(ok bool, statusText string) {
		g.respond(sess, eventJoinGame, ok, statusText)
	}
	ctx, cancel := g.opCtx()
	defer cancel()

	if inLive, err := g.service.InLiveMatch(ctx, sess.userID); err != nil {
		reply(false, "Error with the database")
		return
	} else if inLive {
		reply(false, "User already in a Live Game")
		return
	}

	user, err := g.service.User(ctx, sess.userID)
	if err != nil {
		reply(false, "Error with the database")
		return
	}

	open, err := g.service.FindOpen(ctx)
	if err != nil {
		reply(false, "Error with the database")
		return
	}
	if open != nil {
		//1.- Pair into the oldest open match; both players are now present.
		updated, err := g.service.Join(ctx, user, open.ID)
		if err != nil {
			reply(false, "This User can't be added to the game.")
			return
		}
		if err := g.service.MarkPlaying(ctx, sess.userID, true); err != nil {
			reply(false, "Error with the database")
			return
		}
		g.joinGroup(sess, updated.ID)
		g.Broadcast(updated.ID, eventJoinedGame, updated)
		g.sched.Start(updated.ID)
		reply(true, "")
		return
	}

	//2.- Nobody is waiting: queue a fresh public match. The simulation does
	// not start until a second player arrives.
	position, err := g.service.NextQueuePosition(ctx)
	if err != nil {
		reply(false, "Error with the database")
		return
	}
	created, err := g.service.Create(ctx, user, position, false, store.VisibilityPublic)
	if err != nil {
		reply(false, "Error in creating the game in the DB.")
		return
	}
	if err := g.service.MarkPlaying(ctx, sess.userID, true); err != nil {
		reply(false, "Error with the database")
		return
	}
	g.joinGroup(sess, created.ID)
	g.Broadcast(created.ID, eventJoinedGame, created)
	reply(true, "")
}

// handleStartPowerUp arms speed mode on the running simulation and persists
// the SPEED mode on the match record. A missing simulation is a silent no-op.
func (g *Gateway) handleStartPowerUp(sess *session, data json.RawMessage) {
	var body powerUpPayload
	if err := json.Unmarshal(data, &body); err != nil {
		return
	}
	if !g.sched.Running(body.Room) {
		return
	}
	if body.IsSpeed {
		g.sched.EnableSpeedMode(body.Room)
	}
	ctx, cancel := g.opCtx()
	defer cancel()
	updated, err := g.service.SetSpeedMode(ctx, body.Room)
	if err != nil {
		g.log.Error("persisting speed mode failed", logging.String("match_id", body.Room), logging.Error(err))
		return
	}
	g.Broadcast(body.Room, eventUpdateMode, updated)
}

// handlePaddleMove applies paddle positions to the running simulation. Absent
// fields leave the corresponding paddle untouched; a missing simulation is a
// silent no-op.
func (g *Gateway) handlePaddleMove(data json.RawMessage) {
	var body paddlePayload
	if err := json.Unmarshal(data, &body); err != nil {
		return
	}
	g.sched.SetPaddles(body.Room, body.YPadL, body.YPadR)
}
