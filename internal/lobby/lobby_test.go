package lobby

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/DoyleJ11/mafia-session/internal/engine"
	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan protocol.Message, within time.Duration) protocol.StateUpdate {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		snap, ok := m.(protocol.StateUpdate)
		if !ok {
			t.Fatalf("expected stateUpdate, got %T", m)
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
	}
	return protocol.StateUpdate{} // unreachable
}

func recvNoSnapshot(t *testing.T, ch <-chan protocol.Message, within time.Duration) {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			// channel closed → no further snapshots possible
			return
		}
		t.Fatalf("expected no message within %v, but got: %+v", within, m)
	case <-time.After(within):
	}
}

// latest syncs with the lobby loop, then drains ch and returns the newest
// snapshot it held.
func latest(t *testing.T, l *Lobby, ch <-chan protocol.Message) protocol.StateUpdate {
	t.Helper()
	_, err := l.Snapshot(context.Background())
	require.NoError(t, err)

	var last protocol.StateUpdate
	seen := false
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				t.Fatalf("client outbox closed unexpectedly")
			}
			if snap, isSnap := m.(protocol.StateUpdate); isSnap {
				last, seen = snap, true
			}
		default:
			require.True(t, seen, "no snapshot queued")
			return last
		}
	}
}

func newLobby(t *testing.T, opts ...Option) *Lobby {
	t.Helper()
	opts = append([]Option{WithCode("ABC123"), WithSource(rand.New(rand.NewPCG(1, 2)))}, opts...)
	l := NewLobby(context.Background(), opts...)
	t.Cleanup(l.Close)
	return l
}

func join(l *Lobby, n int) map[string]chan protocol.Message {
	outs := make(map[string]chan protocol.Message, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%02d", i)
		outs[id] = make(chan protocol.Message, 64)
		l.Inbox() <- Join{ClientID: id, Name: "Player " + id, Outbox: outs[id]}
	}
	return outs
}

func TestLobby_Join_SendsSnapshot(t *testing.T) {
	l := newLobby(t)

	out := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p1", Name: " Alice ", Outbox: out}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, protocol.PlayerData{ID: "p1", Name: "Alice", Status: roster.StatusActive}, first.PlayerData)
	assert.Equal(t, []protocol.PlayerListItem{{ID: "p1", Name: "Alice", Status: roster.StatusActive}}, first.PlayersList)
	assert.Equal(t, protocol.GameState{Phase: engine.PhaseWaiting}, first.GameState)

	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", v.Code)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, 1, v.NumClients)
}

func TestLobby_Join_RejectedClosesOutbox(t *testing.T) {
	l := newLobby(t)

	first := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p1", Name: "Alice", Outbox: first}
	recvSnapshot(t, first, 100*time.Millisecond)

	dup := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p1", Name: "Again", Outbox: dup}
	blank := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p2", Name: "   ", Outbox: blank}

	for _, ch := range []chan protocol.Message{dup, blank} {
		_, ok := <-ch
		assert.False(t, ok)
	}
	recvNoSnapshot(t, first, 50*time.Millisecond)
}

func TestLobby_Join_RepliesAdmission(t *testing.T) {
	l := newLobby(t)

	first, reply := make(chan protocol.Message, 4), make(chan error, 1)
	l.Inbox() <- Join{ClientID: "p1", Name: "Alice", Outbox: first, Reply: reply}
	assert.NoError(t, <-reply)

	dup := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p1", Name: "Again", Outbox: dup, Reply: reply}
	assert.ErrorIs(t, <-reply, roster.ErrDuplicateParticipant)

	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Active, 1)
	assert.Equal(t, "Alice", v.Active[0].Name)
	assert.Equal(t, 1, v.NumClients)
}

func TestLobby_OverflowJoinsWaiting(t *testing.T) {
	l := newLobby(t)
	outs := join(l, 11)

	snap := latest(t, l, outs["p11"])
	assert.Equal(t, roster.StatusWaiting, snap.PlayerData.Status)
	require.Len(t, snap.PlayersList, 11)
	for i, item := range snap.PlayersList[:10] {
		assert.Equal(t, roster.StatusActive, item.Status, "entry %d", i)
	}

	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, v.Active, 10)
	assert.Len(t, v.Waiting, 1)
}

func TestLobby_StartGame_NeedsFullRoster(t *testing.T) {
	l := newLobby(t)
	outs := join(l, 5)

	err := l.StartGame(context.Background())
	assert.ErrorIs(t, err, ErrRosterNotFull)

	snap := latest(t, l, outs["p01"])
	assert.Equal(t, engine.PhaseWaiting, snap.GameState.Phase)
	assert.Empty(t, snap.PlayerData.Role)
}

func TestLobby_StartGame_DealsRolesPrivately(t *testing.T) {
	l := newLobby(t)
	outs := join(l, 10)

	require.NoError(t, l.StartGame(context.Background()))
	assert.ErrorIs(t, l.StartGame(context.Background()), engine.ErrGameAlreadyStarted)

	counts := make(map[engine.Role]int)
	indices := make(map[int]bool)
	for id, out := range outs {
		snap := latest(t, l, out)
		assert.Equal(t, protocol.GameState{Phase: engine.PhaseRoleReveal, Day: 1}, snap.GameState)
		assert.Equal(t, id, snap.PlayerData.ID)
		assert.True(t, snap.PlayerData.Role.Valid())
		assert.NotEmpty(t, snap.PlayerData.CharacterImage)
		counts[snap.PlayerData.Role]++
		indices[snap.PlayerData.Index] = true

		// everyone listed holds a seat
		_, err := protocol.Encode(snap)
		require.NoError(t, err)
		for _, item := range snap.PlayersList {
			assert.NotZero(t, item.Index)
		}
	}

	assert.Equal(t, map[engine.Role]int{
		engine.RoleDon:      1,
		engine.RoleMafia:    2,
		engine.RoleSheriff:  1,
		engine.RoleCivilian: 6,
	}, counts)
	assert.Len(t, indices, 10)
}

func TestLobby_PromoteDemote(t *testing.T) {
	l := newLobby(t, WithCapacity(4))
	outs := join(l, 5)
	ctx := context.Background()

	assert.ErrorIs(t, l.Promote(ctx, "p05"), roster.ErrCapacityReached)
	assert.ErrorIs(t, l.Demote(ctx, "p05"), roster.ErrNotActive)

	require.NoError(t, l.Demote(ctx, "p02"))
	require.NoError(t, l.Promote(ctx, "p05"))

	snap := latest(t, l, outs["p05"])
	assert.Equal(t, roster.StatusActive, snap.PlayerData.Status)

	v, err := l.Snapshot(ctx)
	require.NoError(t, err)
	ids := func(ps []roster.Participant) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}
	assert.Equal(t, []string{"p01", "p03", "p04", "p05"}, ids(v.Active))
	assert.Equal(t, []string{"p02"}, ids(v.Waiting))

	require.NoError(t, l.StartGame(ctx))
	assert.ErrorIs(t, l.Demote(ctx, "p01"), ErrGameInProgress)
	assert.ErrorIs(t, l.Promote(ctx, "p02"), ErrGameInProgress)
}

func TestLobby_JoinDuringGameWaits(t *testing.T) {
	l := newLobby(t, WithCapacity(4))
	join(l, 4)
	ctx := context.Background()
	require.NoError(t, l.StartGame(ctx))

	l.Inbox() <- Leave{ClientID: "p01"}
	late := make(chan protocol.Message, 8)
	l.Inbox() <- Join{ClientID: "late", Name: "Late", Outbox: late}

	snap := latest(t, l, late)
	assert.Equal(t, roster.StatusWaiting, snap.PlayerData.Status)
	assert.Empty(t, snap.PlayerData.Role)
}

func TestLobby_Leave(t *testing.T) {
	l := newLobby(t)
	outs := join(l, 3)

	l.Inbox() <- Leave{ClientID: "p02"}

	snap := latest(t, l, outs["p01"])
	require.Len(t, snap.PlayersList, 2)
	assert.Equal(t, "p01", snap.PlayersList[0].ID)
	assert.Equal(t, "p03", snap.PlayersList[1].ID)

	for range outs["p02"] {
	}
	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumClients)
}

func TestLobby_LeaveMidGame_Forfeits(t *testing.T) {
	l := newLobby(t, WithCapacity(4))
	outs := join(l, 4)
	require.NoError(t, l.StartGame(context.Background()))

	l.Inbox() <- Leave{ClientID: "p03"}

	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	seat, ok := v.State.SeatOf("p03")
	require.True(t, ok)
	assert.False(t, seat.Alive)

	snap := latest(t, l, outs["p01"])
	assert.Len(t, snap.PlayersList, 3)
	for _, item := range snap.PlayersList {
		assert.NotEqual(t, "p03", item.ID)
	}
}

func TestLobby_AdvanceAndEliminate(t *testing.T) {
	l := newLobby(t)
	outs := join(l, 10)
	ctx := context.Background()

	assert.ErrorIs(t, l.Advance(ctx), engine.ErrIllegalTransition)
	require.NoError(t, l.StartGame(ctx))

	assert.ErrorIs(t, l.Eliminate(ctx, "p01"), engine.ErrIllegalTransition)

	want := []engine.Phase{engine.PhaseMafiaSetup, engine.PhaseDayStart, engine.PhaseDiscussion, engine.PhaseDefense, engine.PhaseFinalVote}
	for _, phase := range want {
		require.NoError(t, l.Advance(ctx))
		assert.Equal(t, phase, latest(t, l, outs["p01"]).GameState.Phase)
	}

	require.NoError(t, l.Eliminate(ctx, "p04"))
	assert.ErrorIs(t, l.Eliminate(ctx, "p04"), engine.ErrAlreadyEliminated)

	snap := latest(t, l, outs["p04"])
	assert.True(t, snap.PlayerData.Eliminated)

	require.NoError(t, l.Advance(ctx))
	snap = latest(t, l, outs["p01"])
	assert.Equal(t, protocol.GameState{Phase: engine.PhaseMafiaKill, Day: 2}, snap.GameState)
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newLobby(t)

	slow := make(chan protocol.Message, 1)
	l.Inbox() <- Join{ClientID: "slow", Name: "Slow", Outbox: slow}
	fast := make(chan protocol.Message, 8)
	l.Inbox() <- Join{ClientID: "fast", Name: "Fast", Outbox: fast}

	v, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v.NumClients)

	recvSnapshot(t, slow, 100*time.Millisecond)
	_, ok := <-slow
	assert.False(t, ok, "slow outbox closed after the drop")
}

func TestLobby_Views_TrackState(t *testing.T) {
	l := newLobby(t)
	views, cancel := l.Views().Subscribe()
	defer cancel()

	join(l, 2)
	_, err := l.Snapshot(context.Background())
	require.NoError(t, err)

	select {
	case v := <-views:
		assert.Equal(t, 2, v.Version)
		assert.Len(t, v.Active, 2)
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timed out waiting for view")
	}
}

func TestLobby_Shutdown_SendsHostLeft(t *testing.T) {
	l := NewLobby(context.Background())

	full := make(chan protocol.Message, 1)
	l.Inbox() <- Join{ClientID: "p1", Name: "Alice", Outbox: full}
	roomy := make(chan protocol.Message, 8)
	l.Inbox() <- Join{ClientID: "p2", Name: "Bob", Outbox: roomy}

	l.Close()
	l.Close()

	var last protocol.Message
	for m := range roomy {
		last = m
	}
	assert.Equal(t, protocol.HostLeft{}, last)

	assert.True(t, l.Views().Get().Closed)
	assert.ErrorIs(t, l.StartGame(context.Background()), ErrLobbyClosed)
	assert.False(t, l.Post(Leave{ClientID: "p1"}))
}

func TestLobby_ContextCancel_Stops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLobby(ctx)

	out := make(chan protocol.Message, 4)
	l.Inbox() <- Join{ClientID: "p1", Name: "Alice", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not stop")
	}
	assert.Equal(t, protocol.HostLeft{}, <-out)
	recvNoSnapshot(t, out, 50*time.Millisecond)
}
