// Package hub maps short room codes to live sessions.
package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/quiz"
	"github.com/bcvb95/tipsklub-quiz/internal/session"
)

type HubMsg interface{ isHubMsg() }

// CreateRoom makes a new session under a freshly generated code. Code
// collisions are resolved by silent regeneration before creation.
type CreateRoom struct {
	Reply chan Created
}

type Created struct {
	Code    string
	Session *session.Session
}

type GetRoom struct {
	Code  string
	Reply chan *session.Session
}

type RemoveRoom struct {
	Code string
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*session.Session
	bundle *quiz.Bundle
	budget time.Duration
	idle   time.Duration
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, bundle *quiz.Bundle, budget, idle time.Duration, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*session.Session),
		bundle: bundle,
		budget: budget,
		idle:   idle,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
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
			case CreateRoom:
				code := h.freshCode()
				s := h.startSession(code)
				h.rooms[code] = s
				h.log.Info("room created", zap.String("code", code))
				msg.Reply <- Created{Code: code, Session: s}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // may be nil

			case RemoveRoom:
				delete(h.rooms, msg.Code)
				h.log.Info("room removed", zap.String("code", msg.Code))

			case ShutdownHub:
				for _, s := range h.rooms {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

// freshCode regenerates until the code is unused. Collisions are invisible
// to users beyond the displayed code changing.
func (h *Hub) freshCode() string {
	for {
		code := GenerateCode()
		if _, taken := h.rooms[code]; !taken {
			return code
		}
		h.log.Debug("room code collision, regenerating", zap.String("code", code))
	}
}

func (h *Hub) startSession(code string) *session.Session {
	onClose := func() {
		// The session goroutine calls this when the host leaves; hand the
		// removal back to the hub loop rather than touching the map here.
		select {
		case h.inbox <- RemoveRoom{Code: code}:
		case <-h.ctx.Done():
		}
	}
	return session.New(h.ctx, h.bundle, h.budget, h.idle, h.log.With(zap.String("room", code)), onClose)
}
