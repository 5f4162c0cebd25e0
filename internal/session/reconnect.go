package session

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/engine"
	"github.com/bcvb95/tipsklub-quiz/internal/protocol"
)

// reconnectTable preserves departed players' full records, keyed by
// identity, until the same identity joins again or the room is destroyed.
// It also issues per-join opaque tokens so a rejoin can name its identity
// without relying on the display name alone.
type reconnectTable struct {
	parked map[string]*engine.Player
	tokens map[string]string // token -> identity
	issued map[string]string // identity -> token
}

func newReconnectTable() *reconnectTable {
	return &reconnectTable{
		parked: make(map[string]*engine.Player),
		tokens: make(map[string]string),
		issued: make(map[string]string),
	}
}

func (t *reconnectTable) park(p *engine.Player) {
	t.parked[p.Name] = p
}

// take removes and returns the preserved record for name, if any.
func (t *reconnectTable) take(name string) (*engine.Player, bool) {
	p, ok := t.parked[name]
	if ok {
		delete(t.parked, name)
	}
	return p, ok
}

// resolve maps a join token back to its identity.
func (t *reconnectTable) resolve(token string) (string, bool) {
	name, ok := t.tokens[token]
	return name, ok
}

// tokenFor returns the identity's token, minting one on first use.
func (t *reconnectTable) tokenFor(name string) string {
	if tok, ok := t.issued[name]; ok {
		return tok
	}
	tok := uuid.NewString()
	t.issued[name] = tok
	t.tokens[tok] = name
	return tok
}

func (t *reconnectTable) names() []string {
	out := make([]string, 0, len(t.parked))
	for name := range t.parked {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// handleJoin admits a connection as a player, covering lobby joins and
// mid-session rejoins. A token identifies the rejoining identity even if the
// display name was mistyped; otherwise identity is the display name, and two
// simultaneous players choosing the same name share one record.
func (s *Session) handleJoin(c *conn, m protocol.Join) {
	name := m.Name
	if ident, ok := s.reconnect.resolve(m.Token); ok {
		name = ident
	}
	if name == "" {
		return // malformed join, dropped
	}

	if rec, ok := s.reconnect.take(name); ok {
		s.state.RestorePlayer(rec)
		s.log.Info("player reconnected", zap.String("player", name))
	} else if _, live := s.state.Players[name]; !live {
		s.state.AddPlayer(name)
		s.log.Info("player joined", zap.String("player", name))
	}
	c.name = name

	s.send(c, protocol.Joined{
		Type:  protocol.KindJoined,
		Name:  name,
		Token: s.reconnect.tokenFor(name),
	})

	// A rejoin mid-question gets the current question replayed so the
	// player can resume answering; the replay omits the timer since the
	// remaining window is the host's to decide.
	switch s.state.Phase {
	case engine.PhaseQuestion, engine.PhaseLocked:
		q := s.state.CurrentQuestion()
		s.send(c, protocol.Question{
			Type:     protocol.KindQuestion,
			Index:    s.state.Cursor,
			Total:    len(s.state.Questions),
			Question: q.Prompt,
			Options:  q.Options,
		})
	}

	s.broadcast(s.rosterMessage())
}
