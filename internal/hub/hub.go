package hub

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jdelgado/rps-backend/internal/config"
	"github.com/jdelgado/rps-backend/internal/game"
	"github.com/jdelgado/rps-backend/internal/registry"
	"github.com/jdelgado/rps-backend/internal/room"
	"github.com/jdelgado/rps-backend/internal/types"
)

type HubMsg interface{ isHubMsg() }

// Connect is a connect-to-room event from the transport.
type Connect struct {
	ConnID   string
	Username string
	Code     string
	Outbox   chan types.ServerMessage
}

// PlayerChoice is a player-choice event. Choice is already parsed at the
// websocket boundary.
type PlayerChoice struct {
	ConnID string
	Code   string
	Choice game.Choice
}

// Disconnected is the transport reporting a closed connection.
type Disconnected struct{ ConnID string }

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type ShutdownHub struct{}

// removeRoom is posted by a room's onClose callback.
type removeRoom struct{ code string }

func (Connect) isHubMsg()      {}
func (PlayerChoice) isHubMsg() {}
func (Disconnected) isHubMsg() {}
func (GetRoom) isHubMsg()      {}
func (ShutdownHub) isHubMsg()  {}
func (removeRoom) isHubMsg()   {}

// Hub routes transport events to room actors. It exclusively owns the room
// table and the participant registry; both are only touched from the hub
// goroutine.
type Hub struct {
	inbox      chan HubMsg
	rooms      map[string]*room.Room
	reg        *registry.Registry
	rules      room.Rules
	minCodeLen int
	clock      clockwork.Clock
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(parent context.Context, cfg config.Config, clock clockwork.Clock, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox: make(chan HubMsg, 64),
		rooms: make(map[string]*room.Room),
		reg:   registry.New(),
		rules: room.Rules{
			RoundTimeout:   cfg.RoundTimeout,
			ReconnectGrace: cfg.ReconnectGrace,
			WinThreshold:   cfg.WinThreshold,
		},
		minCodeLen: cfg.MinRoomCodeLen,
		clock:      clock,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Connect:
				h.handleConnect(msg)
			case PlayerChoice:
				h.handleChoice(msg)
			case Disconnected:
				h.handleDisconnected(msg)
			case removeRoom:
				// only drop the entry if it is still the closed room; a
				// fresh room may have replaced it already (see handleConnect)
				if rm := h.rooms[msg.code]; rm != nil && rm.Closed() {
					h.dropRoom(msg.code)
				}
			case GetRoom:
				msg.Reply <- h.rooms[msg.Code]
			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) handleConnect(msg Connect) {
	if msg.Username == "" {
		sendException(msg.Outbox, "username is required")
		return
	}
	if len(msg.Code) < h.minCodeLen {
		sendException(msg.Outbox, "room code is too short")
		return
	}

	// A room that tore itself down can still sit in the table until its
	// removal message is processed; reap it here so the code is joinable
	// again and stale registry entries cannot fail the fullness check.
	if rm := h.rooms[msg.Code]; rm != nil && rm.Closed() {
		h.dropRoom(msg.Code)
	}

	// The reconnect check runs before the fullness check so a returning
	// player is never bounced from their own seat.
	if prev := h.reg.FindByUsername(msg.Username, msg.Code); prev != nil {
		oldConn := prev.ConnID
		h.reg.Remove(oldConn)
		h.reg.Register(&registry.Participant{
			ConnID:   msg.ConnID,
			Username: msg.Username,
			RoomID:   msg.Code,
			Status:   registry.StatusActive,
			Outbox:   msg.Outbox,
		})
		rm := h.rooms[msg.Code]
		if rm == nil {
			// Registry and room table are purged together, so a name entry
			// without a room should not happen; reseat into a fresh room.
			h.log.Warn("reconnect into missing room", zap.String("room", msg.Code))
			rm = h.ensureRoom(msg.Code)
			rm.Inbox() <- room.Seat{ConnID: msg.ConnID, Username: msg.Username, Outbox: msg.Outbox}
			return
		}
		rm.Inbox() <- room.Reseat{
			ConnID:    msg.ConnID,
			OldConnID: oldConn,
			Username:  msg.Username,
			Outbox:    msg.Outbox,
		}
		return
	}

	if h.reg.Occupancy(msg.Code) >= 2 {
		sendException(msg.Outbox, "room is full")
		return
	}

	h.reg.Register(&registry.Participant{
		ConnID:   msg.ConnID,
		Username: msg.Username,
		RoomID:   msg.Code,
		Status:   registry.StatusActive,
		Outbox:   msg.Outbox,
	})
	rm := h.ensureRoom(msg.Code)
	rm.Inbox() <- room.Seat{ConnID: msg.ConnID, Username: msg.Username, Outbox: msg.Outbox}
}

func (h *Hub) handleChoice(msg PlayerChoice) {
	p := h.reg.ByConn(msg.ConnID)
	if p == nil {
		// Stale event: the game may already be over. Not a hard error.
		h.log.Debug("choice from unbound connection", zap.String("conn", msg.ConnID))
		return
	}
	if p.RoomID != msg.Code {
		sendException(p.Outbox, "not connected to that room")
		return
	}
	rm := h.rooms[msg.Code]
	if rm == nil {
		return
	}
	rm.Inbox() <- room.SubmitChoice{ConnID: msg.ConnID, Username: p.Username, Choice: msg.Choice}
}

func (h *Hub) handleDisconnected(msg Disconnected) {
	p := h.reg.ByConn(msg.ConnID)
	if p == nil {
		return
	}
	p.Status = registry.StatusPendingReconnect
	rm := h.rooms[p.RoomID]
	if rm == nil {
		h.reg.Remove(msg.ConnID)
		return
	}
	rm.Inbox() <- room.Disconnect{ConnID: msg.ConnID, Username: p.Username}
}

func (h *Hub) dropRoom(code string) {
	delete(h.rooms, code)
	h.reg.PurgeRoom(code)
	h.log.Info("room removed", zap.String("room", code))
}

func (h *Hub) ensureRoom(code string) *room.Room {
	if rm := h.rooms[code]; rm != nil && !rm.Closed() {
		return rm
	}
	rm := room.New(h.ctx, code, h.rules, h.clock, h.log, func() {
		h.inbox <- removeRoom{code: code}
	})
	h.rooms[code] = rm
	h.log.Info("room created", zap.String("room", code))
	return rm
}

func sendException(out chan<- types.ServerMessage, text string) {
	select {
	case out <- types.ServerMessage{Type: types.EvtException, Message: text}:
	default:
	}
}
