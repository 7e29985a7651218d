package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paddlearena/gameserver/internal/auth"
	"paddlearena/gameserver/internal/config"
	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/match"
	"paddlearena/gameserver/internal/rooms"
	"paddlearena/gameserver/internal/store"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// session ties one live connection to an authenticated user and, at most,
// one joined match group.
type session struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Gateway accepts client connections, authenticates them, relays player
// input into running simulations, and fans simulation snapshots plus
// lifecycle events out to match groups.
type Gateway struct {
	service      *match.Service
	verifier     *auth.TokenVerifier
	log          *logging.Logger
	pingInterval time.Duration
	storeTimeout time.Duration
	maxPayload   int64
	upgrader     websocket.Upgrader

	sched *rooms.Scheduler

	mu       sync.Mutex
	sessions map[*session]bool
	groups   map[string]map[*session]bool
	joined   map[*session]string
}

// NewGateway wires the gateway against the lifecycle service and verifier.
// The room scheduler is attached separately because it needs the gateway as
// its broadcaster.
func NewGateway(service *match.Service, verifier *auth.TokenVerifier, cfg *config.Config, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.L()
	}
	g := &Gateway{
		service:      service,
		verifier:     verifier,
		log:          logger,
		pingInterval: cfg.PingInterval,
		storeTimeout: cfg.StoreTimeout,
		maxPayload:   cfg.MaxPayloadBytes,
		sessions:     make(map[*session]bool),
		groups:       make(map[string]map[*session]bool),
		joined:       make(map[*session]string),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	}
	return g
}

// AttachScheduler binds the room scheduler once it has been constructed with
// this gateway as its broadcaster.
func (g *Gateway) AttachScheduler(sched *rooms.Scheduler) {
	g.sched = sched
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection, authenticates the token carried in the
// handshake query, runs the reconnection protocol, and then pumps messages
// until the client goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	sess := &session{conn: conn, send: make(chan []byte, sendBuffer)}
	go g.writePump(sess)

	//1.- Resolve the player identity before anything else may happen.
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	claims, err := g.verifier.Verify(token)
	if err != nil {
		g.register(sess)
		g.sendTo(sess, eventError, "Invalid user token")
		g.teardown(sess)
		return
	}
	ctx, cancel := g.opCtx()
	user, err := g.service.User(ctx, claims.UserID)
	cancel()
	if err != nil {
		g.register(sess)
		g.sendTo(sess, eventError, "Invalid user token")
		g.teardown(sess)
		return
	}
	sess.userID = user.ID
	g.register(sess)
	g.log.Info("player connected", logging.String("user_id", user.ID))

	//2.- A returning player may have a paused match waiting for them.
	g.reconnect(sess)

	g.readPump(sess)
}

// reconnect resumes the user's paused match, if any. Failures are reported to
// the connecting client only; the connection stays open.
func (g *Gateway) reconnect(sess *session) {
	ctx, cancel := g.opCtx()
	defer cancel()

	paused, err := g.service.PausedMatchFor(ctx, sess.userID)
	if err != nil {
		g.sendTo(sess, eventReconnectionError, "Failed to reconnect to the game")
		return
	}
	if paused == nil {
		return
	}

	//1.- The match only goes LIVE when the opponent is present and playing.
	opponent := paused.OpponentOf(sess.userID)
	live := opponent != nil && opponent.IsPlaying && opponent.Online
	status := store.StatusPause
	if live {
		status = store.StatusLive
	}
	updated, err := g.service.SetStatus(ctx, paused.ID, status)
	if err != nil {
		g.sendTo(sess, eventReconnectionError, "Failed to reconnect to the game")
		return
	}
	if err := g.service.MarkPlaying(ctx, sess.userID, true); err != nil {
		g.sendTo(sess, eventReconnectionError, "Failed to reconnect to the game")
		return
	}
	if live {
		g.sched.Start(paused.ID)
	}

	//2.- Join the group and let both players render the refreshed match.
	g.joinGroup(sess, paused.ID)
	g.Broadcast(paused.ID, eventJoinedGame, updated)
}

// handleDisconnect runs the disconnect protocol after the read pump exits.
func (g *Gateway) handleDisconnect(sess *session) {
	g.teardown(sess)
	if sess.userID == "" {
		return
	}
	ctx, cancel := g.opCtx()
	defer cancel()

	live, err := g.service.LiveMatchFor(ctx, sess.userID)
	if err != nil {
		g.log.Error("disconnect lookup failed", logging.String("user_id", sess.userID), logging.Error(err))
		return
	}
	if live == nil {
		if err := g.service.MarkPlaying(ctx, sess.userID, false); err != nil {
			g.log.Error("clearing playing flag failed", logging.String("user_id", sess.userID), logging.Error(err))
		}
		return
	}

	//1.- Pause first so the persisted record never claims a LIVE match with
	// a missing player.
	updated, err := g.service.Pause(ctx, live.ID)
	if err != nil {
		g.log.Error("pausing match failed", logging.String("match_id", live.ID), logging.Error(err))
		return
	}
	if err := g.service.MarkPlaying(ctx, sess.userID, false); err != nil {
		g.log.Error("clearing playing flag failed", logging.String("user_id", sess.userID), logging.Error(err))
	}
	g.sched.Stop(live.ID)
	g.Broadcast(live.ID, eventOpponentDisconnected, updated)
	g.log.Info("player disconnected mid-match",
		logging.String("user_id", sess.userID),
		logging.String("match_id", live.ID))
}

func (g *Gateway) readPump(sess *session) {
	defer func() {
		g.handleDisconnect(sess)
		sess.conn.Close()
	}()
	if g.maxPayload > 0 {
		sess.conn.SetReadLimit(g.maxPayload)
	}
	deadline := 2 * g.pingInterval
	sess.conn.SetReadDeadline(time.Now().Add(deadline))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(sess, raw)
	}
}

func (g *Gateway) writePump(sess *session) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) register(sess *session) {
	g.mu.Lock()
	g.sessions[sess] = true
	g.mu.Unlock()
}

// teardown removes the session from the registry and its group, then closes
// the send channel so the write pump drains and exits. Safe to call twice.
func (g *Gateway) teardown(sess *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sessions[sess] {
		return
	}
	delete(g.sessions, sess)
	g.leaveGroupLocked(sess)
	close(sess.send)
}

// joinGroup moves the session into the match's broadcast group, leaving any
// previous group first. A connection belongs to at most one group.
func (g *Gateway) joinGroup(sess *session, matchID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sessions[sess] {
		return
	}
	g.leaveGroupLocked(sess)
	members := g.groups[matchID]
	if members == nil {
		members = make(map[*session]bool)
		g.groups[matchID] = members
	}
	members[sess] = true
	g.joined[sess] = matchID
}

func (g *Gateway) leaveGroupLocked(sess *session) {
	matchID, ok := g.joined[sess]
	if !ok {
		return
	}
	delete(g.joined, sess)
	if members := g.groups[matchID]; members != nil {
		delete(members, sess)
		if len(members) == 0 {
			delete(g.groups, matchID)
		}
	}
}

// Broadcast fans the event out to every member of the match's group. Slow
// consumers have the message dropped rather than stalling the tick loop.
func (g *Gateway) Broadcast(matchID, event string, payload any) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		g.log.Error("broadcast encode failed", logging.String("event", event), logging.Error(err))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for member := range g.groups[matchID] {
		select {
		case member.send <- msg:
		default:
		}
	}
}

// sendTo delivers the event to a single session only.
func (g *Gateway) sendTo(sess *session, event string, payload any) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		g.log.Error("send encode failed", logging.String("event", event), logging.Error(err))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sessions[sess] {
		return
	}
	select {
	case sess.send <- msg:
	default:
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

func (g *Gateway) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.storeTimeout)
}
