package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdelgado/rps-backend/internal/game"
	"github.com/jdelgado/rps-backend/internal/hub"
	"github.com/jdelgado/rps-backend/internal/types"
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		out := make(chan types.ServerMessage, 16)
		log.Debug("connection opened", zap.String("conn", connID))
		defer func() {
			log.Debug("connection closed", zap.String("conn", connID))
			h.Inbox() <- hub.Disconnected{ConnID: connID}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for {
				select {
				case msg, ok := <-out:
					if !ok {
						// The room closed the outbox: nothing more will ever be sent.
						conn.Close(websocket.StatusNormalClosure, "game over")
						return
					}
					payload, _ := json.Marshal(msg)
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				case <-writeCtx.Done():
					// Reader is gone and no room ever adopted this outbox
					// (e.g. the join was rejected), so nobody will close it.
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal; either way the
				// deferred Disconnected kicks off the reconnection grace.
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeException(r.Context(), conn, "bad json")
				continue
			}

			switch cm.Type {
			case "connect-to-room":
				h.Inbox() <- hub.Connect{ConnID: connID, Username: cm.Username, Code: cm.Room, Outbox: out}
			case "player-choice":
				choice, ok := game.ParseChoice(cm.Choice)
				if !ok {
					writeException(r.Context(), conn, "invalid choice")
					continue
				}
				h.Inbox() <- hub.PlayerChoice{ConnID: connID, Code: cm.Room, Choice: choice}
			case "disconnecting":
				return
			default:
				writeException(r.Context(), conn, "unknown type")
			}
		}
	}
}

// writeException reports a boundary-validation failure straight back to the
// offending connection; nothing past this point ever saw the frame.
func writeException(ctx context.Context, conn *websocket.Conn, text string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.EvtException, Message: text})
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
