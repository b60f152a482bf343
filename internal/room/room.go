package room

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jdelgado/rps-backend/internal/game"
	"github.com/jdelgado/rps-backend/internal/types"
)

type Phase string

const (
	PhaseAwaitingOpponent Phase = "awaiting-opponent"
	PhaseRoundInProgress  Phase = "round-in-progress"
	PhaseGameOver         Phase = "game-over"
)

// Rules are the tunables a room plays under.
type Rules struct {
	RoundTimeout   time.Duration
	ReconnectGrace time.Duration
	WinThreshold   int
}

type Msg interface{ isRoomMsg() }

// Seat is a fresh join, already validated by the hub.
type Seat struct {
	ConnID   string
	Username string
	Outbox   chan types.ServerMessage
}

// Reseat moves an existing player's seat onto a new connection.
type Reseat struct {
	ConnID    string
	OldConnID string
	Username  string
	Outbox    chan types.ServerMessage
}

type SubmitChoice struct {
	ConnID   string
	Username string
	Choice   game.Choice
}

type Disconnect struct {
	ConnID   string
	Username string
}

type Shutdown struct{}

type GetState struct{ Reply chan View }

// Timer expiries re-enter through the inbox so they run under the same
// serialization as client events.
type roundExpired struct{ gen uint64 }

type graceExpired struct{ username string }

func (Seat) isRoomMsg()         {}
func (Reseat) isRoomMsg()       {}
func (SubmitChoice) isRoomMsg() {}
func (Disconnect) isRoomMsg()   {}
func (Shutdown) isRoomMsg()     {}
func (GetState) isRoomMsg()     {}
func (roundExpired) isRoomMsg() {}
func (graceExpired) isRoomMsg() {}

type seat struct {
	Username string
	ConnID   string
}

// View reflects room state for tests without data races.
type View struct {
	Phase      Phase
	Round      int
	Scores     map[string]int
	Seated     []string
	Pending    int
	NumClients int
}

type Room struct {
	code    string
	rules   Rules
	inbox   chan Msg
	clients map[string]chan types.ServerMessage

	seats   []seat
	scores  map[string]int
	pending map[string]game.Choice
	phase   Phase
	round   int

	roundTimer  clockwork.Timer
	timerGen    uint64
	graceTimers map[string]clockwork.Timer

	closed  bool
	onClose func()

	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a room actor. onClose is invoked once, from the room goroutine,
// when the room tears itself down; the hub uses it to clean its table.
func New(parent context.Context, code string, rules Rules, clock clockwork.Clock, log *zap.Logger, onClose func()) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:        code,
		rules:       rules,
		inbox:       make(chan Msg, 64),
		clients:     make(map[string]chan types.ServerMessage),
		scores:      make(map[string]int),
		pending:     make(map[string]game.Choice),
		phase:       PhaseAwaitingOpponent,
		round:       1,
		graceTimers: make(map[string]clockwork.Timer),
		onClose:     onClose,
		clock:       clock,
		log:         log.With(zap.String("room", code)),
		ctx:         ctx,
		cancel:      cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Code() string { return r.code }

// Closed reports whether the room has torn down. Safe from any goroutine;
// the hub uses it to spot a dead table entry before routing into it.
func (r *Room) Closed() bool { return r.ctx.Err() != nil }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.close(false)
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Seat:
				r.handleSeat(msg)
			case Reseat:
				r.handleReseat(msg)
			case SubmitChoice:
				r.handleChoice(msg)
			case Disconnect:
				r.handleDisconnect(msg)
			case roundExpired:
				r.handleRoundExpired(msg)
			case graceExpired:
				r.handleGraceExpired(msg)
			case GetState:
				msg.Reply <- r.view()
			case Shutdown:
				r.close(false)
				return
			}
			if r.closed {
				return
			}
		}
	}
}

func (r *Room) handleSeat(msg Seat) {
	r.clients[msg.ConnID] = msg.Outbox
	if _, ok := r.scores[msg.Username]; !ok {
		r.scores[msg.Username] = 0
	}
	r.seats = append(r.seats, seat{Username: msg.Username, ConnID: msg.ConnID})
	r.broadcast(types.ServerMessage{Type: types.EvtJoin, Message: msg.Username + " joined the room"})
	r.log.Info("player seated", zap.String("username", msg.Username))
	r.maybeBegin()
}

// maybeBegin starts round flow once both seats are filled.
func (r *Room) maybeBegin() {
	if len(r.seats) != 2 || r.phase != PhaseAwaitingOpponent {
		return
	}
	r.phase = PhaseRoundInProgress
	r.broadcast(types.ServerMessage{Type: types.EvtReady, Message: "both players ready"})
	r.startRound()
}

func (r *Room) handleReseat(msg Reseat) {
	if old, ok := r.clients[msg.OldConnID]; ok {
		close(old)
		delete(r.clients, msg.OldConnID)
	}
	r.clients[msg.ConnID] = msg.Outbox

	reseated := false
	for i := range r.seats {
		if r.seats[i].Username == msg.Username {
			r.seats[i].ConnID = msg.ConnID
			reseated = true
		}
	}
	if !reseated {
		r.seats = append(r.seats, seat{Username: msg.Username, ConnID: msg.ConnID})
	}
	// The grace expiry re-checks seating, so the timer is inert either way;
	// stopping it just releases it early.
	if t, ok := r.graceTimers[msg.Username]; ok {
		t.Stop()
		delete(r.graceTimers, msg.Username)
	}
	r.broadcast(types.ServerMessage{Type: types.EvtReconnect, Message: msg.Username + " reconnected"})
	r.log.Info("player reconnected", zap.String("username", msg.Username))

	if r.phase == PhaseAwaitingOpponent {
		r.maybeBegin()
		return
	}
	if r.phase == PhaseRoundInProgress && len(r.seats) == 2 && r.roundTimer == nil {
		// The round was paused for the disconnect. Elapsed time must not
		// count against the returning player, so the deadline restarts.
		r.startRound()
	}
}

func (r *Room) handleChoice(msg SubmitChoice) {
	if r.phase != PhaseRoundInProgress {
		r.sendTo(msg.ConnID, types.ServerMessage{Type: types.EvtException, Message: "no round in progress"})
		return
	}
	if !r.seated(msg.Username) {
		r.sendTo(msg.ConnID, types.ServerMessage{Type: types.EvtException, Message: "not seated in this room"})
		return
	}
	// Duplicate submission overwrites: the last choice before resolution counts.
	r.pending[msg.Username] = msg.Choice
	if r.choicesComplete() {
		r.resolveRound()
	}
}

// choicesComplete reports whether every seat has a pending choice. Both
// seats must be filled: a choice submitted while the opponent is in
// reconnection grace is held, not resolved.
func (r *Room) choicesComplete() bool {
	if len(r.seats) != 2 {
		return false
	}
	for _, s := range r.seats {
		if _, ok := r.pending[s.Username]; !ok {
			return false
		}
	}
	return true
}

func (r *Room) handleDisconnect(msg Disconnect) {
	if ch, ok := r.clients[msg.ConnID]; ok {
		close(ch)
		delete(r.clients, msg.ConnID)
	}
	if !r.seated(msg.Username) {
		return
	}
	for i := range r.seats {
		if r.seats[i].Username == msg.Username {
			r.seats = append(r.seats[:i], r.seats[i+1:]...)
			break
		}
	}
	delete(r.pending, msg.Username)
	// Pause the round; no choice deadline elapses while a player is unreachable.
	r.stopRoundTimer()
	r.armGraceTimer(msg.Username)
	r.broadcast(types.ServerMessage{Type: types.EvtDisconnect, Message: msg.Username + " disconnected"})
	r.log.Info("player disconnected", zap.String("username", msg.Username))
}

func (r *Room) handleRoundExpired(msg roundExpired) {
	if msg.gen != r.timerGen || r.phase != PhaseRoundInProgress || len(r.seats) != 2 {
		return // stale fire
	}
	for _, s := range r.seats {
		if _, ok := r.pending[s.Username]; !ok {
			r.pending[s.Username] = game.DefaultChoice
		}
	}
	r.resolveRound()
}

func (r *Room) handleGraceExpired(msg graceExpired) {
	if r.seated(msg.username) {
		return // rejoined in time
	}
	delete(r.graceTimers, msg.username)
	r.log.Info("reconnection grace expired", zap.String("username", msg.username))
	if len(r.seats) == 1 {
		winner := r.seats[0].Username
		r.broadcast(types.ServerMessage{Type: types.EvtGameOver, Winner: winner})
		r.log.Info("game over by forfeit", zap.String("winner", winner))
	}
	r.close(true)
}

// resolveRound is the single resolution path, shared by submissions and
// round-timer expiry. Stopping the timer first bumps the generation, so a
// fire already in flight lands as a stale no-op.
func (r *Room) resolveRound() {
	r.stopRoundTimer()

	a, b := r.seats[0], r.seats[1]
	ca, cb := r.pending[a.Username], r.pending[b.Username]

	var result string
	switch game.Resolve(ca, cb) {
	case game.Tie:
		result = "tie"
		r.scores[a.Username]++
		r.scores[b.Username]++
	case game.FirstWins:
		result = a.Username
		r.scores[a.Username]++
	case game.SecondWins:
		result = b.Username
		r.scores[b.Username]++
	}

	r.broadcast(types.ServerMessage{
		Type:    types.EvtRoundResult,
		Round:   r.round,
		Choices: map[string]string{a.Username: string(ca), b.Username: string(cb)},
		Result:  result,
		Scores:  r.snapshotScores(),
	})
	r.log.Info("round resolved", zap.Int("round", r.round), zap.String("result", result))

	clear(r.pending)
	r.round++

	// Both reaching the threshold in the same resolving round (a tie bumps
	// both) is an overall tie; check that before either-at-threshold.
	aWon := r.scores[a.Username] >= r.rules.WinThreshold
	bWon := r.scores[b.Username] >= r.rules.WinThreshold
	switch {
	case aWon && bWon:
		r.finish("tie")
	case aWon:
		r.finish(a.Username)
	case bWon:
		r.finish(b.Username)
	default:
		r.startRound()
	}
}

// startRound arms a fresh deadline for the current round and announces it.
func (r *Room) startRound() {
	r.armRoundTimer()
	r.broadcast(types.ServerMessage{
		Type:  types.EvtStartRound,
		Round: r.round,
		Timer: r.rules.RoundTimeout.Milliseconds(),
	})
}

func (r *Room) finish(winner string) {
	r.broadcast(types.ServerMessage{Type: types.EvtGameOver, Winner: winner})
	r.log.Info("game over", zap.String("winner", winner))
	r.close(true)
}

func (r *Room) armRoundTimer() {
	r.timerGen++
	gen := r.timerGen
	t := r.clock.NewTimer(r.rules.RoundTimeout)
	r.roundTimer = t
	go func() {
		select {
		case <-t.Chan():
			select {
			case r.inbox <- roundExpired{gen: gen}:
			case <-r.ctx.Done():
			}
		case <-r.ctx.Done():
			t.Stop()
		}
	}()
}

// stopRoundTimer is idempotent. The generation bump makes a fire that
// already left the timer a stale no-op by the time it reaches the inbox.
func (r *Room) stopRoundTimer() {
	r.timerGen++
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

func (r *Room) armGraceTimer(username string) {
	if t, ok := r.graceTimers[username]; ok {
		t.Stop()
	}
	t := r.clock.NewTimer(r.rules.ReconnectGrace)
	r.graceTimers[username] = t
	go func() {
		select {
		case <-t.Chan():
			select {
			case r.inbox <- graceExpired{username: username}:
			case <-r.ctx.Done():
			}
		case <-r.ctx.Done():
			t.Stop()
		}
	}()
}

// close is the single teardown path for every exit: win, forfeit, emptied
// room, hub shutdown. Safe to invoke more than once. notify reports the
// closure to the hub; the hub-initiated paths skip it.
func (r *Room) close(notify bool) {
	if r.closed {
		return
	}
	r.closed = true
	r.phase = PhaseGameOver
	r.stopRoundTimer()
	for _, t := range r.graceTimers {
		t.Stop()
	}
	clear(r.graceTimers)
	// cancel before releasing the outboxes so Closed() already reads true
	// for anyone who observed their channel close
	r.cancel()
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	if notify && r.onClose != nil {
		r.onClose()
	}
	r.log.Info("room closed")
}

func (r *Room) seated(username string) bool {
	for _, s := range r.seats {
		if s.Username == username {
			return true
		}
	}
	return false
}

func (r *Room) snapshotScores() map[string]int {
	out := make(map[string]int, len(r.scores))
	for u, s := range r.scores {
		out[u] = s
	}
	return out
}

func (r *Room) broadcast(msg types.ServerMessage) {
	for id, ch := range r.clients {
		select {
		case ch <- msg:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) sendTo(connID string, msg types.ServerMessage) {
	ch, ok := r.clients[connID]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (r *Room) view() View {
	seated := make([]string, 0, len(r.seats))
	for _, s := range r.seats {
		seated = append(seated, s.Username)
	}
	return View{
		Phase:      r.phase,
		Round:      r.round,
		Scores:     r.snapshotScores(),
		Seated:     seated,
		Pending:    len(r.pending),
		NumClients: len(r.clients),
	}
}
