// Package ws bridges websocket connections into session inboxes. Each
// connection gets a reader loop decoding protocol messages and a writer
// goroutine draining its outbox; the session never touches the socket.
package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/hub"
	"github.com/bcvb95/tipsklub-quiz/internal/protocol"
	"github.com/bcvb95/tipsklub-quiz/internal/session"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan any, 8)
		connID := randID(6)

		// The room can end between the registry lookup and here; never
		// block on an inbox nothing is draining.
		select {
		case sess.Inbox() <- session.Attach{ConnID: connID, Outbox: out}:
		case <-sess.Done():
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		defer func() {
			select {
			case sess.Inbox() <- session.Detach{ConnID: connID}:
			case <-sess.Done():
			}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		write := func(msg any) {
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Error("marshal outbound message", zap.Error(err))
				return
			}
			ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
			_ = conn.Write(ctx, websocket.MessageText, payload)
			cancel()
		}
		go func() {
			// Outbox closed means the session dropped us or shut down.
			defer conn.Close(websocket.StatusGoingAway, "session closed")
			for {
				select {
				case msg, ok := <-out:
					if !ok {
						return
					}
					write(msg)
				case <-sess.Done():
					// Flush whatever the session queued before ending. The
					// outbox stays open only if the attach raced a shutdown
					// and was never processed, so never block on it here.
					for {
						select {
						case msg, ok := <-out:
							if !ok {
								return
							}
							write(msg)
						default:
							return
						}
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return // detach in defer handles the rest
			}

			msg, err := protocol.Decode(data)
			if err != nil {
				// Malformed or unknown messages are dropped, never fatal.
				log.Debug("undecodable message", zap.String("conn", connID), zap.Error(err))
				continue
			}
			select {
			case sess.Inbox() <- session.FromConn{ConnID: connID, Msg: msg}:
			case <-sess.Done():
				return
			}
		}
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
