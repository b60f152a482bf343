package hub

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jdelgado/rps-backend/internal/config"
	"github.com/jdelgado/rps-backend/internal/game"
	"github.com/jdelgado/rps-backend/internal/room"
	"github.com/jdelgado/rps-backend/internal/types"
)

func testConfig() config.Config {
	// distinct durations so advancing past one deadline cannot trip the other
	return config.Config{
		RoundTimeout:   20 * time.Second,
		ReconnectGrace: 60 * time.Second,
		WinThreshold:   5,
		MinRoomCodeLen: 5,
	}
}

func newTestHub(t *testing.T, cfg config.Config) (*Hub, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, cfg, clk, zap.NewNop()), clk
}

func recvType(t *testing.T, ch <-chan types.ServerMessage, typ string) types.ServerMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", typ)
			}
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func recvNone(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, but got: %+v", within, msg)
	case <-time.After(within):
	}
}

func waitClosed(t *testing.T, ch <-chan types.ServerMessage) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox never closed")
		}
	}
}

func getRoom(t *testing.T, h *Hub, code string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- GetRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room lookup")
		return nil // unreachable
	}
}

func waitRoomGone(t *testing.T, h *Hub, code string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if getRoom(t, h, code) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %q was never removed", code)
}

// connectPair joins alice and bob to "abcde" and waits for round 1.
func connectPair(t *testing.T, h *Hub) (chan types.ServerMessage, chan types.ServerMessage) {
	t.Helper()
	alice := make(chan types.ServerMessage, 16)
	bob := make(chan types.ServerMessage, 16)
	h.Inbox() <- Connect{ConnID: "c-alice", Username: "alice", Code: "abcde", Outbox: alice}
	h.Inbox() <- Connect{ConnID: "c-bob", Username: "bob", Code: "abcde", Outbox: bob}

	recvType(t, alice, types.EvtReady)
	start := recvType(t, alice, types.EvtStartRound)
	require.Equal(t, 1, start.Round)
	recvType(t, bob, types.EvtStartRound)
	return alice, bob
}

func TestHub_RejectsBadJoins(t *testing.T) {
	h, _ := newTestHub(t, testConfig())

	out := make(chan types.ServerMessage, 4)
	h.Inbox() <- Connect{ConnID: "c1", Username: "", Code: "abcde", Outbox: out}
	require.Contains(t, recvType(t, out, types.EvtException).Message, "username")

	h.Inbox() <- Connect{ConnID: "c1", Username: "alice", Code: "abcd", Outbox: out}
	require.Contains(t, recvType(t, out, types.EvtException).Message, "too short")

	// nothing was created for either attempt
	require.Nil(t, getRoom(t, h, "abcde"))
	require.Nil(t, getRoom(t, h, "abcd"))
}

func TestHub_RejectsThirdPlayer(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	connectPair(t, h)

	carol := make(chan types.ServerMessage, 4)
	h.Inbox() <- Connect{ConnID: "c-carol", Username: "carol", Code: "abcde", Outbox: carol}
	require.Contains(t, recvType(t, carol, types.EvtException).Message, "full")
}

func TestHub_SeatHeldDuringGraceStaysReserved(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, _ := connectPair(t, h)

	h.Inbox() <- Disconnected{ConnID: "c-bob"}
	recvType(t, alice, types.EvtDisconnect)

	// bob's seat is reserved while his reconnect grace runs
	carol := make(chan types.ServerMessage, 4)
	h.Inbox() <- Connect{ConnID: "c-carol", Username: "carol", Code: "abcde", Outbox: carol}
	require.Contains(t, recvType(t, carol, types.EvtException).Message, "full")
}

func TestHub_ChoicesResolveRound(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, bob := connectPair(t, h)

	h.Inbox() <- PlayerChoice{ConnID: "c-alice", Code: "abcde", Choice: game.Rock}
	h.Inbox() <- PlayerChoice{ConnID: "c-bob", Code: "abcde", Choice: game.Scissors}

	res := recvType(t, alice, types.EvtRoundResult)
	require.Equal(t, "alice", res.Result)
	require.Equal(t, map[string]int{"alice": 1, "bob": 0}, res.Scores)
	recvType(t, bob, types.EvtRoundResult)

	next := recvType(t, alice, types.EvtStartRound)
	require.Equal(t, 2, next.Round)
}

func TestHub_GameOverTearsDownRoom(t *testing.T) {
	cfg := testConfig()
	cfg.WinThreshold = 1
	h, _ := newTestHub(t, cfg)
	alice, bob := connectPair(t, h)

	h.Inbox() <- PlayerChoice{ConnID: "c-alice", Code: "abcde", Choice: game.Paper}
	h.Inbox() <- PlayerChoice{ConnID: "c-bob", Code: "abcde", Choice: game.Rock}

	require.Equal(t, "alice", recvType(t, alice, types.EvtGameOver).Winner)
	recvType(t, bob, types.EvtGameOver)

	waitRoomGone(t, h, "abcde")

	// a choice for the dead room is a no-op: registry is purged, nothing routes
	h.Inbox() <- PlayerChoice{ConnID: "c-alice", Code: "abcde", Choice: game.Rock}
	require.Nil(t, getRoom(t, h, "abcde"))
}

func TestHub_DisconnectForfeitAfterGrace(t *testing.T) {
	h, clk := newTestHub(t, testConfig())
	alice, _ := connectPair(t, h)

	h.Inbox() <- Disconnected{ConnID: "c-bob"}
	recvType(t, alice, types.EvtDisconnect)

	clk.Advance(testConfig().ReconnectGrace)

	require.Equal(t, "alice", recvType(t, alice, types.EvtGameOver).Winner)
	waitRoomGone(t, h, "abcde")
}

func TestHub_ReconnectBeforeGraceExpiry(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, _ := connectPair(t, h)

	h.Inbox() <- Disconnected{ConnID: "c-bob"}
	recvType(t, alice, types.EvtDisconnect)

	bob2 := make(chan types.ServerMessage, 16)
	h.Inbox() <- Connect{ConnID: "c-bob-2", Username: "bob", Code: "abcde", Outbox: bob2}

	recvType(t, alice, types.EvtReconnect)
	restart := recvType(t, bob2, types.EvtStartRound)
	require.Equal(t, 1, restart.Round)

	// game continues on the new socket with no forfeit
	h.Inbox() <- PlayerChoice{ConnID: "c-alice", Code: "abcde", Choice: game.Rock}
	h.Inbox() <- PlayerChoice{ConnID: "c-bob-2", Code: "abcde", Choice: game.Paper}
	res := recvType(t, alice, types.EvtRoundResult)
	require.Equal(t, "bob", res.Result)
	recvType(t, alice, types.EvtStartRound)
	recvNone(t, alice, 100*time.Millisecond)
}

func TestHub_SecondSocketTakesOverSeat(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, bob := connectPair(t, h)

	// alice opens a fresh socket without ever disconnecting the first
	alice2 := make(chan types.ServerMessage, 16)
	h.Inbox() <- Connect{ConnID: "c-alice-2", Username: "alice", Code: "abcde", Outbox: alice2}
	recvType(t, bob, types.EvtReconnect)

	// the evicted socket's outbox is closed
	waitClosed(t, alice)

	// play continues on the new socket
	h.Inbox() <- PlayerChoice{ConnID: "c-alice-2", Code: "abcde", Choice: game.Rock}
	h.Inbox() <- PlayerChoice{ConnID: "c-bob", Code: "abcde", Choice: game.Scissors}
	res := recvType(t, alice2, types.EvtRoundResult)
	require.Equal(t, "alice", res.Result)
}

func TestHub_ConnectReplacesClosedRoom(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, bob := connectPair(t, h)

	// stop the room out from under the hub, leaving a dead table entry
	rm := getRoom(t, h, "abcde")
	require.NotNil(t, rm)
	rm.Inbox() <- room.Shutdown{}
	waitClosed(t, alice)
	waitClosed(t, bob)
	require.True(t, rm.Closed())

	// the code must be joinable again with a fresh room, not routed into
	// the inbox nothing drains
	carol := make(chan types.ServerMessage, 16)
	h.Inbox() <- Connect{ConnID: "c-carol", Username: "carol", Code: "abcde", Outbox: carol}
	recvType(t, carol, types.EvtJoin)

	fresh := getRoom(t, h, "abcde")
	require.NotNil(t, fresh)
	require.NotSame(t, rm, fresh)
	require.False(t, fresh.Closed())
}

func TestHub_ChoiceFromUnknownConnIsNoop(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, _ := connectPair(t, h)

	h.Inbox() <- PlayerChoice{ConnID: "c-ghost", Code: "abcde", Choice: game.Rock}
	recvNone(t, alice, 100*time.Millisecond)
}

func TestHub_WrongRoomChoiceGetsException(t *testing.T) {
	h, _ := newTestHub(t, testConfig())
	alice, _ := connectPair(t, h)

	h.Inbox() <- PlayerChoice{ConnID: "c-alice", Code: "zzzzz", Choice: game.Rock}
	require.Contains(t, recvType(t, alice, types.EvtException).Message, "not connected")
}
