package engine

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/bcvb95/tipsklub-quiz/internal/quiz"
)

var ErrBadPhase = errors.New("operation not legal in current phase")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrBadOption = errors.New("option index out of range")

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseQuestion Phase = "question"
	PhaseLocked   Phase = "locked"
	PhaseReveal   Phase = "reveal"
	PhaseHalftime Phase = "halftime"
	PhaseFinal    Phase = "final"
)

// AnswerRecord is one entry of a player's per-question history. Picked is
// "—" when the player never voted before lock.
type AnswerRecord struct {
	Picked  string `json:"picked"`
	Correct string `json:"correct"`
	Right   bool   `json:"right"`
}

// Player is the host-side record for one identity. The cumulative score is
// monotonic non-decreasing for the lifetime of the room.
type Player struct {
	Name         string
	Score        int
	CorrectCount int
	Answered     bool
	History      []AnswerRecord
}

// Round holds the per-question vote state. It is reset on every question
// broadcast and frozen at lock time.
type Round struct {
	// Tally maps option index to the identities currently voting for it,
	// in host-observed arrival order. An identity appears in at most one
	// bucket at any time.
	Tally map[int][]string
	// Order is the arrival-ordered list of identities whose current vote
	// is correct. Position 0 receives the speed bonus at reveal.
	Order []string
	// Times records elapsed time since question broadcast per identity.
	Times map[string]time.Duration
}

func newRound() Round {
	return Round{
		Tally: make(map[int][]string),
		Times: make(map[string]time.Duration),
	}
}

// VoteOf scans the tally for the bucket containing name.
func (r *Round) VoteOf(name string) (int, bool) {
	for opt, names := range r.Tally {
		if slices.Contains(names, name) {
			return opt, true
		}
	}
	return -1, false
}

// drop removes name from its current bucket and from the answer order.
func (r *Round) drop(name string) {
	for opt, names := range r.Tally {
		if i := slices.Index(names, name); i >= 0 {
			r.Tally[opt] = slices.Delete(names, i, i+1)
		}
	}
	if i := slices.Index(r.Order, name); i >= 0 {
		r.Order = slices.Delete(r.Order, i, i+1)
	}
}

// Standing is one row of a standings snapshot, sorted by score descending.
// Ties keep incidental order; no secondary tie-break is defined.
type Standing struct {
	Name    string         `json:"name"`
	Score   int            `json:"score"`
	Correct int            `json:"correct"`
	Answers []AnswerRecord `json:"answers,omitempty"`
}

// Step is the outcome of Advance.
type Step int

const (
	StepQuestion Step = iota
	StepHalftime
	StepFinal
)

// State is the full quiz state owned by a single session goroutine. None of
// its methods are safe for concurrent use.
type State struct {
	Phase         Phase
	Cursor        int
	Players       map[string]*Player
	Round         Round
	Questions     []quiz.Question
	HalftimeAfter int
	halftimeShown bool
}

func NewState(questions []quiz.Question) *State {
	return &State{
		Phase:         PhaseLobby,
		Players:       make(map[string]*Player),
		Round:         newRound(),
		Questions:     questions,
		HalftimeAfter: len(questions) / 2,
	}
}

func (s *State) CurrentQuestion() quiz.Question {
	return s.Questions[s.Cursor]
}

// AddPlayer registers a brand-new identity with zero score.
func (s *State) AddPlayer(name string) *Player {
	p := &Player{Name: name}
	s.Players[name] = p
	return p
}

// RemovePlayer detaches a player record from the live registry, returning it
// so the caller can park it for reconnection.
func (s *State) RemovePlayer(name string) *Player {
	p := s.Players[name]
	delete(s.Players, name)
	return p
}

// RestorePlayer merges a preserved record back in, score and history intact.
func (s *State) RestorePlayer(p *Player) {
	s.Players[p.Name] = p
}

// Start begins the quiz: cursor 0, first question open for votes.
func (s *State) Start() error {
	if s.Phase != PhaseLobby {
		return ErrBadPhase
	}
	s.Cursor = 0
	s.beginQuestion()
	return nil
}

func (s *State) beginQuestion() {
	s.Round = newRound()
	for _, p := range s.Players {
		p.Answered = false
	}
	s.Phase = PhaseQuestion
}

// ReceiveAnswer registers or changes a vote. Changing an answer atomically
// moves the identity between tally buckets; abandoning a correct option also
// removes it from the answer order. Votes arriving outside PhaseQuestion are
// rejected and must be dropped by the caller, never scored.
func (s *State) ReceiveAnswer(name string, option int, elapsed time.Duration) error {
	if s.Phase != PhaseQuestion {
		return ErrBadPhase
	}
	p, ok := s.Players[name]
	if !ok {
		return ErrUnknownPlayer
	}
	q := s.CurrentQuestion()
	if option < 0 || option >= len(q.Options) {
		return ErrBadOption
	}

	if p.Answered {
		s.Round.drop(name)
	}
	p.Answered = true
	s.Round.Tally[option] = append(s.Round.Tally[option], name)
	s.Round.Times[name] = elapsed
	if option == q.Correct {
		s.Round.Order = append(s.Round.Order, name)
	}
	return nil
}

// Lock freezes the tally and answer order for scoring. Triggered by the
// question timer expiring or an explicit host action.
func (s *State) Lock() error {
	if s.Phase != PhaseQuestion {
		return ErrBadPhase
	}
	s.Phase = PhaseLocked
	return nil
}

// Reveal scores the frozen round once and applies the deltas. It returns
// each player's earned points for this question (zero entries included).
// Scores are never revised afterward.
func (s *State) Reveal(budget time.Duration) (map[string]int, error) {
	if s.Phase != PhaseLocked {
		return nil, ErrBadPhase
	}
	q := s.CurrentQuestion()
	first := ""
	if len(s.Round.Order) > 0 {
		first = s.Round.Order[0]
	}

	earned := make(map[string]int, len(s.Players))
	for name, p := range s.Players {
		vote, voted := s.Round.VoteOf(name)
		right := voted && vote == q.Correct

		pts := 0
		if right {
			elapsed, ok := s.Round.Times[name]
			if !ok {
				elapsed = budget
			}
			pts = Score(elapsed, budget, true, name == first)
			p.Score += pts
			p.CorrectCount++
		}
		earned[name] = pts

		picked := "—"
		if voted {
			picked = q.Options[vote]
		}
		p.History = append(p.History, AnswerRecord{
			Picked:  picked,
			Correct: q.Options[q.Correct],
			Right:   right,
		})
	}
	s.Phase = PhaseReveal
	return earned, nil
}

// Advance moves past a reveal: next question, the one-time halftime
// checkpoint, or the final scoreboard.
func (s *State) Advance() (Step, error) {
	if s.Phase != PhaseReveal {
		return 0, ErrBadPhase
	}
	s.Cursor++
	switch {
	case s.Cursor >= len(s.Questions):
		s.Phase = PhaseFinal
		return StepFinal, nil
	case s.Cursor == s.HalftimeAfter && !s.halftimeShown:
		s.halftimeShown = true
		s.Phase = PhaseHalftime
		return StepHalftime, nil
	default:
		s.beginQuestion()
		return StepQuestion, nil
	}
}

// Resume leaves the halftime checkpoint and opens the next question.
func (s *State) Resume() error {
	if s.Phase != PhaseHalftime {
		return ErrBadPhase
	}
	s.beginQuestion()
	return nil
}

// Standings returns the current score table sorted by score descending.
// withHistory additionally attaches each player's full answer history, as
// sent with the final scoreboard.
func (s *State) Standings(withHistory bool) []Standing {
	rows := make([]Standing, 0, len(s.Players))
	for _, p := range s.Players {
		row := Standing{Name: p.Name, Score: p.Score, Correct: p.CorrectCount}
		if withHistory {
			row.Answers = p.History
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	return rows
}
