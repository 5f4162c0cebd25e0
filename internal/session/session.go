// Package session runs one quiz room: a single goroutine owns the player
// registry, vote tally, answer order, question cursor and timers, and is the
// sole writer of scores. All coordination is by message passing through the
// inbox; there is no shared memory and no locking.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/engine"
	"github.com/bcvb95/tipsklub-quiz/internal/protocol"
	"github.com/bcvb95/tipsklub-quiz/internal/quiz"
)

type Msg interface{ isSessionMsg() }

// Attach registers a transport connection. The first connection to attach
// becomes the host and is the only one whose control commands are honored.
type Attach struct {
	ConnID string
	Outbox chan any // receives encoded protocol messages
}

// Detach reports a closed connection. For a joined player this moves their
// record to the disconnected side-table; for the host it ends the room.
type Detach struct{ ConnID string }

// FromConn delivers a decoded protocol message from a connection.
type FromConn struct {
	ConnID string
	Msg    any
}

// GetView reflects internal state without data races.
type GetView struct{ Reply chan View }

type Shutdown struct{}

type timerFired struct{ gen int }

type idleFired struct{}

func (Attach) isSessionMsg()     {}
func (Detach) isSessionMsg()     {}
func (FromConn) isSessionMsg()   {}
func (GetView) isSessionMsg()    {}
func (Shutdown) isSessionMsg()   {}
func (timerFired) isSessionMsg() {}
func (idleFired) isSessionMsg()  {}

type View struct {
	Phase        engine.Phase
	Cursor       int
	NumConns     int
	Standings    []engine.Standing
	Disconnected []string
}

type conn struct {
	id     string
	outbox chan any
	name   string // bound identity, empty until a valid join
}

// Session is one live room. Created by the hub, destroyed when the host
// connection closes; nothing survives it.
type Session struct {
	inbox  chan Msg
	state  *engine.State
	bundle *quiz.Bundle
	budget time.Duration
	idle   time.Duration

	conns  map[string]*conn
	hostID string

	reconnect *reconnectTable

	questionStart time.Time
	timerGen      int
	timer         *time.Timer
	idleTimer     *time.Timer

	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	onClose func()
	now     func() time.Time
}

// New starts a session goroutine for the given immutable bundle. onClose is
// invoked once when the room ends, so the hub can drop its reference. A room
// left without any connection for idle is reaped; idle 0 disables reaping.
func New(parent context.Context, bundle *quiz.Bundle, budget, idle time.Duration, log *zap.Logger, onClose func()) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:     make(chan Msg, 64),
		state:     engine.NewState(bundle.Questions),
		bundle:    bundle,
		budget:    budget,
		idle:      idle,
		conns:     make(map[string]*conn),
		reconnect: newReconnectTable(),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		onClose:   onClose,
		now:       time.Now,
	}
	s.armIdle()
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed when the room has ended. Transports select on it so an
// inbox send cannot hang on a session whose loop already returned.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Attach:
				s.handleAttach(msg)
			case Detach:
				s.handleDetach(msg.ConnID)
			case FromConn:
				s.handleMessage(msg.ConnID, msg.Msg)
			case timerFired:
				s.handleTimer(msg.gen)
			case idleFired:
				if len(s.conns) == 0 {
					s.log.Info("idle room reaped")
					s.shutdown()
					return
				}
			case GetView:
				msg.Reply <- View{
					Phase:        s.state.Phase,
					Cursor:       s.state.Cursor,
					NumConns:     len(s.conns),
					Standings:    s.state.Standings(false),
					Disconnected: s.reconnect.names(),
				}
			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleAttach(msg Attach) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	c := &conn{id: msg.ConnID, outbox: msg.Outbox}
	s.conns[msg.ConnID] = c
	if s.hostID == "" {
		s.hostID = msg.ConnID
		s.log.Info("host attached", zap.String("conn", msg.ConnID))
	}
	s.send(c, s.rosterMessage())
}

// handleDetach interprets a transport close purely as a disconnect: the
// player's full record is parked for reconnection, never discarded until the
// room itself ends. The host's own connection closing ends the room. Closing
// the outbox releases the transport's writer goroutine.
func (s *Session) handleDetach(connID string) {
	c, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	close(c.outbox)

	if connID == s.hostID {
		s.log.Info("host left, ending room")
		s.shutdown()
		return
	}

	s.parkIfUnbound(c)
	if len(s.conns) == 0 {
		s.armIdle()
	}
	s.broadcast(s.rosterMessage())
}

// parkIfUnbound moves a player's record to the reconnect table once no live
// connection is bound to their identity anymore.
func (s *Session) parkIfUnbound(c *conn) {
	if c.name == "" || s.identityStillConnected(c.name) {
		return
	}
	if rec := s.state.RemovePlayer(c.name); rec != nil {
		s.reconnect.park(rec)
		s.log.Info("player disconnected", zap.String("player", c.name))
	}
}

// identityStillConnected reports whether another live connection is bound to
// the same display name. Simultaneous same-name joins share one record; the
// record is parked only when the last such connection goes away.
func (s *Session) identityStillConnected(name string) bool {
	for _, c := range s.conns {
		if c.name == name {
			return true
		}
	}
	return false
}

func (s *Session) handleMessage(connID string, raw any) {
	c, ok := s.conns[connID]
	if !ok {
		return
	}
	switch m := raw.(type) {
	case protocol.Join:
		s.handleJoin(c, m)
	case protocol.Answer:
		s.handleAnswer(c, m)
	case protocol.Control:
		s.handleControl(c, m)
	default:
		// Phase-illegal or unknown payloads are dropped silently.
		s.log.Debug("dropped message", zap.String("conn", connID))
	}
}

func (s *Session) handleAnswer(c *conn, m protocol.Answer) {
	if c.name == "" {
		return
	}
	elapsed := s.now().Sub(s.questionStart)
	if err := s.state.ReceiveAnswer(c.name, m.Option, elapsed); err != nil {
		// Late or malformed votes never retroactively change a reveal.
		s.log.Debug("vote dropped", zap.String("player", c.name), zap.Error(err))
		return
	}
	s.sendVotes()
}

func (s *Session) handleControl(c *conn, m protocol.Control) {
	if c.id != s.hostID {
		s.log.Debug("control from non-host dropped", zap.String("conn", c.id))
		return
	}
	switch m.Type {
	case protocol.KindStart:
		if err := s.state.Start(); err != nil {
			return
		}
		s.broadcastQuestion()
	case protocol.KindLock:
		s.lock()
	case protocol.KindNext:
		s.advance()
	}
}

// lock freezes the current question. No broadcast: the host's lock decision
// is the single source of truth, player timers are cosmetic.
func (s *Session) lock() {
	if err := s.state.Lock(); err != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.log.Info("question locked", zap.Int("question", s.state.Cursor))
}

// advance drives the host-paced progression: reveal the current question if
// it has not been revealed yet, otherwise move on to the next question, the
// one-time halftime checkpoint, or the final scoreboard.
func (s *Session) advance() {
	switch s.state.Phase {
	case engine.PhaseQuestion:
		s.lock()
		s.reveal()
	case engine.PhaseLocked:
		s.reveal()
	case engine.PhaseReveal:
		step, err := s.state.Advance()
		if err != nil {
			return
		}
		switch step {
		case engine.StepQuestion:
			s.broadcastQuestion()
		case engine.StepHalftime:
			s.broadcast(protocol.Halftime{Type: protocol.KindHalftime, Scores: s.state.Standings(false)})
			s.log.Info("halftime checkpoint")
		case engine.StepFinal:
			s.broadcast(protocol.Scoreboard{Type: protocol.KindScoreboard, Scores: s.state.Standings(true)})
			s.log.Info("final scoreboard sent")
		}
	case engine.PhaseHalftime:
		if err := s.state.Resume(); err != nil {
			return
		}
		s.broadcastQuestion()
	}
}

func (s *Session) broadcastQuestion() {
	q := s.state.CurrentQuestion()
	s.questionStart = s.now()
	s.armTimer()

	s.broadcast(protocol.Question{
		Type:     protocol.KindQuestion,
		Index:    s.state.Cursor,
		Total:    len(s.state.Questions),
		Question: q.Prompt,
		Options:  q.Options,
		Timer:    int(s.budget.Seconds()),
	})
	s.log.Info("question broadcast",
		zap.Int("question", s.state.Cursor),
		zap.Int("players", len(s.state.Players)))
}

// armTimer starts the per-question lock timer. Fires are generation-tagged
// so a stale timer from an earlier question cannot lock a later one.
func (s *Session) armTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.budget, func() {
		select {
		case s.inbox <- timerFired{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

// armIdle schedules a reap check for a room with no live connections.
func (s *Session) armIdle() {
	if s.idle <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idle, func() {
		select {
		case s.inbox <- idleFired{}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) handleTimer(gen int) {
	if gen != s.timerGen {
		return // stale fire from a previous question
	}
	if s.state.Phase == engine.PhaseQuestion {
		s.lock()
		s.sendVotes()
	}
}

// reveal computes scores once for the frozen round and sends each player an
// individual reveal carrying their own earned points plus the shared score
// table. The host copy additionally carries the reveal details.
func (s *Session) reveal() {
	earned, err := s.state.Reveal(s.budget)
	if err != nil {
		return
	}
	q := s.state.CurrentQuestion()

	scores := make(map[string]int, len(s.state.Players))
	for name, p := range s.state.Players {
		scores[name] = p.Score
	}

	for _, c := range s.conns {
		msg := protocol.Reveal{
			Type:        protocol.KindReveal,
			Correct:     q.Correct,
			CorrectText: q.Options[q.Correct],
			Earned:      earned[c.name],
			Scores:      scores,
		}
		if c.id == s.hostID {
			msg.Detail = &protocol.RevealDetail{
				Reveal:  q.Reveal,
				Ranking: q.Ranking,
				ChartID: q.ChartID,
			}
		}
		s.send(c, msg)
	}
	s.log.Info("reveal sent", zap.Int("question", s.state.Cursor))
}

// sendVotes pushes the live per-option counts to the host screen.
func (s *Session) sendVotes() {
	host, ok := s.conns[s.hostID]
	if !ok {
		return
	}
	q := s.state.CurrentQuestion()
	counts := make([]int, len(q.Options))
	answered := 0
	for opt, names := range s.state.Round.Tally {
		counts[opt] = len(names)
		answered += len(names)
	}
	s.send(host, protocol.Votes{
		Type:     protocol.KindVotes,
		Counts:   counts,
		Answered: answered,
		Players:  len(s.state.Players),
	})
}

func (s *Session) rosterMessage() protocol.Lobby {
	players := make([]string, 0, len(s.state.Players))
	for name := range s.state.Players {
		players = append(players, name)
	}
	return protocol.Lobby{
		Type:         protocol.KindLobby,
		Players:      players,
		Disconnected: s.reconnect.names(),
	}
}

// send delivers to one connection, dropping the connection if its outbox is
// full. The coordinator never retries individual sends.
func (s *Session) send(c *conn, msg any) {
	select {
	case c.outbox <- msg:
	default:
		s.log.Warn("slow connection dropped", zap.String("conn", c.id))
		close(c.outbox)
		delete(s.conns, c.id)
		s.parkIfUnbound(c)
		if len(s.conns) == 0 {
			s.armIdle()
		}
	}
}

// broadcast is plain fan-out over the live connection list. No queuing or
// backpressure: room size is single digits.
func (s *Session) broadcast(msg any) {
	for _, c := range s.conns {
		s.send(c, msg)
	}
}

func (s *Session) shutdown() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	for id, c := range s.conns {
		close(c.outbox)
		delete(s.conns, id)
	}
	s.cancel()
	if s.onClose != nil {
		s.onClose()
		s.onClose = nil
	}
}
