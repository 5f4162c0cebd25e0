// Package client implements the player side of a quiz session: purely
// reactive to host messages, with a local optimistic answer highlight and no
// scoring authority of its own.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/engine"
	"github.com/bcvb95/tipsklub-quiz/internal/protocol"
)

type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseWaiting    Phase = "waiting"
	PhaseQuestion   Phase = "question"
	PhaseFeedback   Phase = "feedback"
	PhaseHalftime   Phase = "halftime"
	PhaseFinal      Phase = "final"
	PhaseFailed     Phase = "failed"
)

var ErrNoActiveQuestion = errors.New("no question is open for answers")

// Event is pushed to the consumer for every state change worth rendering.
type Event interface{ isClientEvent() }

type Joined struct {
	Name  string
	Token string
}

type QuestionPosted struct {
	Index   int
	Total   int
	Prompt  string
	Options []string
	Timer   int // seconds; 0 on a mid-question replay
}

// AnswerMarked is the optimistic local highlight, emitted before the host
// confirms anything.
type AnswerMarked struct{ Option int }

type RevealShown struct {
	Correct     int
	CorrectText string
	Picked      int // -1 when unanswered
	Right       bool
	Earned      int
	Score       int
	Scores      map[string]int
}

type HalftimeShown struct{ Scores []StandingRow }

type FinalShown struct {
	Winner string
	Scores []StandingRow
}

type RosterUpdated struct {
	Players      []string
	Disconnected []string
}

type Reconnecting struct{ Attempt int }

// Failed is terminal: the connection could not be established or recovered
// within the bounded retry budget.
type Failed struct{ Err error }

func (Joined) isClientEvent()         {}
func (QuestionPosted) isClientEvent() {}
func (AnswerMarked) isClientEvent()   {}
func (RevealShown) isClientEvent()    {}
func (HalftimeShown) isClientEvent()  {}
func (FinalShown) isClientEvent()     {}
func (RosterUpdated) isClientEvent()  {}
func (Reconnecting) isClientEvent()   {}
func (Failed) isClientEvent()         {}

// StandingRow mirrors one scoreboard row as rendered by the player screen.
// Answers is populated only on the final scoreboard.
type StandingRow struct {
	Name    string
	Score   int
	Correct int
	Answers []engine.AnswerRecord
}

type Config struct {
	URL         string // websocket endpoint including the room code
	Name        string
	DialTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 5
	}
	if out.Backoff == 0 {
		out.Backoff = 2 * time.Second
	}
	return out
}

// Client is one player connection. Events() must be drained by the consumer.
type Client struct {
	cfg    Config
	log    *zap.Logger
	events chan Event

	mu     sync.Mutex
	conn   *websocket.Conn
	phase  Phase
	answer int
	token  string
}

func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		log:    log,
		events: make(chan Event, 16),
		phase:  PhaseConnecting,
		answer: -1,
	}
}

func (c *Client) Events() <-chan Event { return c.events }

// Run connects, joins, and follows the session until the final scoreboard,
// a terminal connection failure, or ctx cancellation. Connection loss
// mid-session triggers bounded reconnection with fixed backoff.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	if err := c.connect(ctx); err != nil {
		c.events <- Failed{Err: err}
		c.setPhase(PhaseFailed)
		return err
	}

	for {
		err := c.readLoop(ctx)
		if c.currentPhase() == PhaseFinal || ctx.Err() != nil {
			return nil
		}
		c.log.Info("connection lost, reconnecting", zap.Error(err))
		if err := c.reconnect(ctx); err != nil {
			c.events <- Failed{Err: err}
			c.setPhase(PhaseFailed)
			return err
		}
	}
}

// SubmitAnswer sends or changes this player's vote. Legal only while a
// question is open; the host remains free to drop a late vote regardless of
// what the local countdown shows.
func (c *Client) SubmitAnswer(ctx context.Context, option int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseQuestion || c.conn == nil {
		return ErrNoActiveQuestion
	}
	c.answer = option
	c.events <- AnswerMarked{Option: option}
	return c.writeLocked(ctx, protocol.Answer{Type: protocol.KindAnswer, Option: option})
}

func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	join := protocol.Join{Type: protocol.KindJoin, Name: c.cfg.Name, Token: c.token}
	err = c.writeLocked(ctx, join)
	c.mu.Unlock()
	return err
}

func (c *Client) reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.events <- Reconnecting{Attempt: attempt}
		select {
		case <-time.After(c.cfg.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if lastErr = c.connect(ctx); lastErr == nil {
			return nil
		}
		c.log.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return lastErr
}

func (c *Client) readLoop(ctx context.Context) error {
	conn := c.currentConn()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue // unknown kinds are dropped
		}
		c.handle(msg)
		if c.currentPhase() == PhaseFinal {
			conn.Close(websocket.StatusNormalClosure, "done")
			return nil
		}
	}
}

func (c *Client) handle(raw any) {
	switch m := raw.(type) {
	case protocol.Joined:
		c.mu.Lock()
		c.token = m.Token
		if c.phase == PhaseConnecting {
			c.phase = PhaseWaiting
		}
		c.mu.Unlock()
		c.events <- Joined{Name: m.Name, Token: m.Token}

	case protocol.Question:
		c.mu.Lock()
		c.phase = PhaseQuestion
		c.answer = -1
		c.mu.Unlock()
		c.events <- QuestionPosted{
			Index:   m.Index,
			Total:   m.Total,
			Prompt:  m.Question,
			Options: m.Options,
			Timer:   m.Timer,
		}

	case protocol.Reveal:
		c.mu.Lock()
		picked := c.answer
		c.phase = PhaseFeedback
		c.mu.Unlock()
		c.events <- RevealShown{
			Correct:     m.Correct,
			CorrectText: m.CorrectText,
			Picked:      picked,
			Right:       picked == m.Correct && picked >= 0,
			Earned:      m.Earned,
			Score:       m.Scores[c.cfg.Name],
			Scores:      m.Scores,
		}

	case protocol.Halftime:
		c.setPhase(PhaseHalftime)
		c.events <- HalftimeShown{Scores: toRows(m.Scores)}

	case protocol.Scoreboard:
		c.setPhase(PhaseFinal)
		ev := FinalShown{Scores: toRows(m.Scores)}
		if len(ev.Scores) > 0 {
			ev.Winner = ev.Scores[0].Name
		}
		c.events <- ev

	case protocol.Lobby:
		c.events <- RosterUpdated{Players: m.Players, Disconnected: m.Disconnected}
	}
}

func toRows(in []engine.Standing) []StandingRow {
	rows := make([]StandingRow, len(in))
	for i, s := range in {
		rows[i] = StandingRow{Name: s.Name, Score: s.Score, Correct: s.Correct, Answers: s.Answers}
	}
	return rows
}

func (c *Client) writeLocked(ctx context.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, payload)
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) currentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Client) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}
