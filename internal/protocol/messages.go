// Package protocol defines the closed set of typed payloads exchanged
// between host and players. Each kind is legal only in specific phases;
// phase-illegal or malformed messages are dropped by the receiver, never
// treated as fatal.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bcvb95/tipsklub-quiz/internal/engine"
	"github.com/bcvb95/tipsklub-quiz/internal/quiz"
)

type Kind string

const (
	// player -> host
	KindJoin   Kind = "join"
	KindAnswer Kind = "answer"

	// host -> player
	KindJoined     Kind = "joined"
	KindQuestion   Kind = "question"
	KindReveal     Kind = "reveal"
	KindHalftime   Kind = "halftime"
	KindScoreboard Kind = "scoreboard"
	KindLobby      Kind = "lobby"
	KindVotes      Kind = "votes"

	// host control commands, only honored from the room's host connection
	KindStart Kind = "start"
	KindLock  Kind = "lock"
	KindNext  Kind = "next"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Join announces an identity. Sent on first join and on every rejoin; Token
// carries the opaque rejoin token from a previous Joined reply, if any.
type Join struct {
	Type  Kind   `json:"type"`
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

// Joined confirms a join and hands the player their rejoin token.
type Joined struct {
	Type  Kind   `json:"type"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Question broadcasts the current question with its time budget in seconds.
// Timer is omitted on mid-question replays to a rejoining player.
type Question struct {
	Type     Kind     `json:"type"`
	Index    int      `json:"index"`
	Total    int      `json:"total"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Timer    int      `json:"timer,omitempty"`
}

// Answer submits or changes a vote for the current question.
type Answer struct {
	Type   Kind `json:"type"`
	Option int  `json:"option"`
}

// RevealDetail carries the host-screen extras for a reveal: the reveal text,
// ranking table and chart reference from the immutable question record.
type RevealDetail struct {
	Reveal  string            `json:"reveal"`
	Ranking []quiz.RankingRow `json:"ranking,omitempty"`
	ChartID string            `json:"chartId,omitempty"`
}

// Reveal is sent individually: Earned is this player's points for the
// question, Scores the shared cumulative table. Detail is set only on the
// host's copy.
type Reveal struct {
	Type        Kind           `json:"type"`
	Correct     int            `json:"correct"`
	CorrectText string         `json:"correctText"`
	Earned      int            `json:"earned"`
	Scores      map[string]int `json:"scores"`
	Detail      *RevealDetail  `json:"detail,omitempty"`
}

// Halftime carries the one-time mid-session standings snapshot.
type Halftime struct {
	Type   Kind              `json:"type"`
	Scores []engine.Standing `json:"scores"`
}

// Scoreboard carries the final sorted standings with per-question history.
type Scoreboard struct {
	Type   Kind              `json:"type"`
	Scores []engine.Standing `json:"scores"`
}

// Lobby is the roster broadcast: connected players plus disconnected ones
// still parked for reconnection.
type Lobby struct {
	Type         Kind     `json:"type"`
	Players      []string `json:"players"`
	Disconnected []string `json:"disconnected,omitempty"`
}

// Votes is the live per-option vote count view, sent to the host only.
type Votes struct {
	Type     Kind  `json:"type"`
	Counts   []int `json:"counts"`
	Answered int   `json:"answered"`
	Players  int   `json:"players"`
}

// Control is a bare host command: start, lock or next.
type Control struct {
	Type Kind `json:"type"`
}

// Decode parses an incoming wire message into its concrete type. Unknown
// kinds return ErrUnknownKind so the caller can drop them silently.
func Decode(data []byte) (any, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message head: %w", err)
	}

	switch head.Type {
	case KindJoin:
		var m Join
		return decodeAs(data, &m)
	case KindAnswer:
		var m Answer
		return decodeAs(data, &m)
	case KindJoined:
		var m Joined
		return decodeAs(data, &m)
	case KindQuestion:
		var m Question
		return decodeAs(data, &m)
	case KindReveal:
		var m Reveal
		return decodeAs(data, &m)
	case KindHalftime:
		var m Halftime
		return decodeAs(data, &m)
	case KindScoreboard:
		var m Scoreboard
		return decodeAs(data, &m)
	case KindLobby:
		var m Lobby
		return decodeAs(data, &m)
	case KindVotes:
		var m Votes
		return decodeAs(data, &m)
	case KindStart, KindLock, KindNext:
		return Control{Type: head.Type}, nil
	default:
		return nil, ErrUnknownKind
	}
}

func decodeAs[T any](data []byte, m *T) (any, error) {
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return *m, nil
}
