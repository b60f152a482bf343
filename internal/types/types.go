package types

// ClientMessage is the tagged inbound frame. Required fields are validated
// at the websocket boundary before anything reaches the hub.
type ClientMessage struct {
	Type     string `json:"type"` // "connect-to-room" | "player-choice" | "disconnecting"
	Username string `json:"username,omitempty"`
	Room     string `json:"room,omitempty"`
	Choice   string `json:"choice,omitempty"`
}

// ServerMessage is the tagged outbound frame. Which fields are populated
// depends on Type.
type ServerMessage struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"`
	Round   int               `json:"round,omitempty"`
	Choices map[string]string `json:"choices,omitempty"`
	Result  string            `json:"result,omitempty"` // winning username or "tie"
	Scores  map[string]int    `json:"scores,omitempty"`
	Timer   int64             `json:"timer,omitempty"` // round countdown in ms
	Winner  string            `json:"winner,omitempty"`
}

const (
	EvtJoin        = "room-event:join"
	EvtReady       = "room-event:ready"
	EvtReconnect   = "room-event:reconnect"
	EvtDisconnect  = "room-event:disconnect"
	EvtRoundResult = "round-result"
	EvtStartRound  = "start-round"
	EvtGameOver    = "game-over"
	EvtException   = "exception"
)
