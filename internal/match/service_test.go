package match

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/store"
)

type countingPresence struct {
	calls int
}

func (p *countingPresence) PlayerStatusChanged() { p.calls++ }

func newTestService(t *testing.T) (*Service, *store.Store, *countingPresence) {
	t.Helper()
	//1.- A named in-memory database keeps the connection pool on one schema
	// while isolating parallel test cases from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())
	presence := &countingPresence{}
	return NewService(st, presence, logging.NewTestLogger()), st, presence
}

func seedUser(t *testing.T, st *store.Store, id, nickname string, playing bool) *store.User {
	t.Helper()
	user := &store.User{ID: id, Nickname: nickname, IsPlaying: playing, Online: true}
	require.NoError(t, st.SaveUser(context.Background(), user))
	return user
}

func TestCreateMatchHasOwnerAsSolePlayer(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", false)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)

	assert.Equal(t, owner.ID, created.OwnerID)
	require.Len(t, created.Players, 1)
	assert.Equal(t, owner.ID, created.Players[0].ID)
	assert.Equal(t, store.StatusPause, created.Status)
	assert.Equal(t, store.ModeClassic, created.Mode)
	assert.False(t, created.Full)
}

func TestJoinSetsStatusFromFirstPlayersPlayingFlag(t *testing.T) {
	tests := []struct {
		name         string
		ownerPlaying bool
		wantStatus   string
	}{
		{name: "owner playing goes live", ownerPlaying: true, wantStatus: store.StatusLive},
		{name: "owner idle stays paused", ownerPlaying: false, wantStatus: store.StatusPause},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service, st, _ := newTestService(t)
			ctx := context.Background()
			owner := seedUser(t, st, "alice", "Alice", tc.ownerPlaying)
			guest := seedUser(t, st, "bob", "Bob", false)

			created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
			require.NoError(t, err)

			joined, err := service.Join(ctx, guest, created.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, joined.Status)
			assert.True(t, joined.Full)
			assert.Len(t, joined.Players, 2)
		})
	}
}

func TestJoinRejectsThirdPlayer(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", false)
	guest := seedUser(t, st, "bob", "Bob", false)
	late := seedUser(t, st, "carol", "Carol", false)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPrivate)
	require.NoError(t, err)
	joined, err := service.Join(ctx, guest, created.ID)
	require.NoError(t, err)
	require.True(t, joined.Full)

	//1.- A sealed match never seats a third player.
	_, err = service.Join(ctx, late, created.ID)
	assert.ErrorIs(t, err, ErrMatchFull)

	reloaded, err := st.MatchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Players, 2)
}

func TestJoinUnknownMatchFails(t *testing.T) {
	service, st, _ := newTestService(t)
	guest := seedUser(t, st, "bob", "Bob", false)

	_, err := service.Join(context.Background(), guest, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchmakingOrderPrefersOldestOpenPublicMatch(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, st, "alice", "Alice", true)
	carol := seedUser(t, st, "carol", "Carol", false)

	//1.- No matches yet: the queue starts at position one and nothing is open.
	position, err := service.NextQueuePosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, position)
	open, err := service.FindOpen(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	first, err := service.Create(ctx, alice, position, false, store.VisibilityPublic)
	require.NoError(t, err)
	_, err = service.Create(ctx, carol, 2, false, store.VisibilityPublic)
	require.NoError(t, err)

	//2.- Private matches never surface through matchmaking.
	dave := seedUser(t, st, "dave", "Dave", false)
	_, err = service.Create(ctx, dave, 5000, false, store.VisibilityPrivate)
	require.NoError(t, err)

	open, err = service.FindOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, first.ID, open.ID)

	position, err = service.NextQueuePosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5001, position)
}

func TestRecordResultSealsMatchAndPromotesWinner(t *testing.T) {
	service, st, presence := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", true)
	guest := seedUser(t, st, "bob", "Bob", true)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)
	_, err = service.Join(ctx, guest, created.ID)
	require.NoError(t, err)

	//1.- The right score leads, so the owner takes the win.
	require.NoError(t, service.RecordResult(ctx, created.ID, 1, 3))

	sealed, err := st.MatchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, sealed.Status)
	assert.True(t, sealed.Finished)
	assert.Equal(t, 1, sealed.ScoreL)
	assert.Equal(t, 3, sealed.ScoreR)
	require.NotNil(t, sealed.WinnerID)
	assert.Equal(t, owner.ID, *sealed.WinnerID)

	//2.- First win: no prior wins, so the expert flag stays off.
	winner, err := st.UserByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, winner.Expert)

	//3.- Both playing flags clear and the presence hook fires for each.
	for _, id := range []string{owner.ID, guest.ID} {
		user, err := st.UserByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, user.IsPlaying)
	}
	assert.GreaterOrEqual(t, presence.calls, 2)
}

func TestRecordResultSecondWinPromotesExpert(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", true)
	guest := seedUser(t, st, "bob", "Bob", true)

	for i := 0; i < 2; i++ {
		created, err := service.Create(ctx, owner, i+1, false, store.VisibilityPublic)
		require.NoError(t, err)
		require.NoError(t, service.MarkPlaying(ctx, owner.ID, true))
		_, err = service.Join(ctx, guest, created.ID)
		require.NoError(t, err)
		require.NoError(t, service.RecordResult(ctx, created.ID, 0, 3))
	}

	winner, err := st.UserByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, winner.Expert)
}

func TestRecordResultOpponentWinsWhenLeftLeads(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", true)
	guest := seedUser(t, st, "bob", "Bob", true)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)
	_, err = service.Join(ctx, guest, created.ID)
	require.NoError(t, err)

	require.NoError(t, service.RecordResult(ctx, created.ID, 3, 0))

	sealed, err := st.MatchByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, sealed.WinnerID)
	assert.Equal(t, guest.ID, *sealed.WinnerID)
}

func TestRecordResultWithoutOpponentFails(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", true)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)

	//1.- Left leads with no second player: the winner cannot be resolved.
	err = service.RecordResult(ctx, created.ID, 3, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPauseAndResumeTransitions(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", true)
	guest := seedUser(t, st, "bob", "Bob", true)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)
	joined, err := service.Join(ctx, guest, created.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusLive, joined.Status)

	paused, err := service.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPause, paused.Status)

	//1.- The paused match is discoverable by either participant for reconnection.
	found, err := service.PausedMatchFor(ctx, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	live, err := service.LiveMatchFor(ctx, guest.ID)
	require.NoError(t, err)
	assert.Nil(t, live)

	resumed, err := service.SetStatus(ctx, created.ID, store.StatusLive)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLive, resumed.Status)

	inLive, err := service.InLiveMatch(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, inLive)
}

func TestMarkPlayingNotifiesPresence(t *testing.T) {
	service, st, presence := newTestService(t)
	ctx := context.Background()
	seedUser(t, st, "alice", "Alice", false)

	require.NoError(t, service.MarkPlaying(ctx, "alice", true))
	assert.Equal(t, 1, presence.calls)

	playing, err := service.IsPlaying(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, playing)

	//1.- Unknown users count as not playing rather than erroring.
	playing, err = service.IsPlaying(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, playing)
}

func TestMarkPlayingUnknownUserFails(t *testing.T) {
	service, _, presence := newTestService(t)

	err := service.MarkPlaying(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, presence.calls)
}

func TestSetSpeedModePersistsMode(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, st, "alice", "Alice", false)

	created, err := service.Create(ctx, owner, 1, false, store.VisibilityPublic)
	require.NoError(t, err)

	updated, err := service.SetSpeedMode(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ModeSpeed, updated.Mode)
}
