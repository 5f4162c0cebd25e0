package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/engine"
	"github.com/bcvb95/tipsklub-quiz/internal/protocol"
	"github.com/bcvb95/tipsklub-quiz/internal/quiz"
)

func testBundle() *quiz.Bundle {
	qs := make([]quiz.Question, 4)
	for i := range qs {
		qs[i] = quiz.Question{
			Prompt:  "q",
			Options: []string{"a", "b", "c", "d"},
			Correct: 1,
			Reveal:  "because b",
		}
	}
	return &quiz.Bundle{Questions: qs}
}

func newTestSession(t *testing.T, budget time.Duration) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, testBundle(), budget, 0, zap.NewNop(), nil)
}

// waitFor drains the outbox until a message of type T arrives, so tests
// stay robust against interleaved roster broadcasts.
func waitFor[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %T", *new(T))
			}
			if m, match := msg.(T); match {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(T))
		}
	}
}

func recvView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func attach(t *testing.T, s *Session, id string) chan any {
	t.Helper()
	out := make(chan any, 32)
	s.Inbox() <- Attach{ConnID: id, Outbox: out}
	waitFor[protocol.Lobby](t, out) // attach confirmation roster
	return out
}

func join(t *testing.T, s *Session, id, name string, out chan any) protocol.Joined {
	t.Helper()
	s.Inbox() <- FromConn{ConnID: id, Msg: protocol.Join{Type: protocol.KindJoin, Name: name}}
	return waitFor[protocol.Joined](t, out)
}

func TestSession_JoinAndStart(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	host := attach(t, s, "host")
	p1 := attach(t, s, "c1")

	joined := join(t, s, "c1", "Jonas", p1)
	assert.Equal(t, "Jonas", joined.Name)
	assert.NotEmpty(t, joined.Token)

	roster := waitFor[protocol.Lobby](t, host)
	assert.Contains(t, roster.Players, "Jonas")

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}

	q := waitFor[protocol.Question](t, p1)
	assert.Equal(t, 0, q.Index)
	assert.Equal(t, 4, q.Total)
	assert.Equal(t, 30, q.Timer)

	view := recvView(t, s)
	assert.Equal(t, engine.PhaseQuestion, view.Phase)
}

func TestSession_ControlFromNonHostIsDropped(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Control{Type: protocol.KindStart}}

	view := recvView(t, s)
	assert.Equal(t, engine.PhaseLobby, view.Phase, "only the host may start the session")
}

func TestSession_AnswerUpdatesHostVoteCounts(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	host := attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}
	waitFor[protocol.Question](t, p1)

	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}

	votes := waitFor[protocol.Votes](t, host)
	assert.Equal(t, []int{0, 1, 0, 0}, votes.Counts)
	assert.Equal(t, 1, votes.Answered)
	assert.Equal(t, 1, votes.Players)
}

func TestSession_RevealCarriesIndividualEarnedPoints(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	host := attach(t, s, "host")
	p1 := attach(t, s, "c1")
	p2 := attach(t, s, "c2")
	join(t, s, "c1", "Jonas", p1)
	join(t, s, "c2", "Nixon", p2)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}
	waitFor[protocol.Question](t, p1)
	waitFor[protocol.Question](t, p2)

	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}
	s.Inbox() <- FromConn{ConnID: "c2", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 0}}

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}

	r1 := waitFor[protocol.Reveal](t, p1)
	r2 := waitFor[protocol.Reveal](t, p2)
	rh := waitFor[protocol.Reveal](t, host)

	assert.Equal(t, 1, r1.Correct)
	assert.Equal(t, "b", r1.CorrectText)
	assert.Greater(t, r1.Earned, 0, "correct voter earns points")
	assert.Zero(t, r2.Earned, "wrong voter earns nothing")
	assert.Equal(t, r1.Scores, r2.Scores, "score table is shared")

	require.NotNil(t, rh.Detail, "host copy carries reveal details")
	assert.Equal(t, "because b", rh.Detail.Reveal)
	assert.Nil(t, r1.Detail, "players never see the details early")
}

func TestSession_LateAnswerAfterLockIsDropped(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}
	waitFor[protocol.Question](t, p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindLock}}
	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}
	r := waitFor[protocol.Reveal](t, p1)
	assert.Zero(t, r.Earned, "vote after lock must not score")
}

func TestSession_TimerExpiryLocksQuestion(t *testing.T) {
	s := newTestSession(t, 50*time.Millisecond)

	attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}
	waitFor[protocol.Question](t, p1)

	deadline := time.Now().Add(2 * time.Second)
	for recvView(t, s).Phase != engine.PhaseLocked {
		if time.Now().After(deadline) {
			t.Fatalf("question never locked after timer expiry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}
	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}
	r := waitFor[protocol.Reveal](t, p1)
	assert.Zero(t, r.Earned)
}

func TestSession_ReconnectRestoresScoreAndHistory(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	host := attach(t, s, "host")
	p1 := attach(t, s, "c1")
	joined := join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}
	waitFor[protocol.Question](t, p1)

	// Score a full round.
	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}
	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}
	r := waitFor[protocol.Reveal](t, p1)
	scoreBefore := r.Scores["Jonas"]
	require.Greater(t, scoreBefore, 0)

	// Next question, then drop mid-question.
	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}
	waitFor[protocol.Question](t, p1)
	s.Inbox() <- Detach{ConnID: "c1"}

	roster := waitFor[protocol.Lobby](t, host)
	assert.Contains(t, roster.Disconnected, "Jonas")

	// Rejoin with the issued token; current question is replayed.
	p1b := attach(t, s, "c1b")
	s.Inbox() <- FromConn{ConnID: "c1b", Msg: protocol.Join{Type: protocol.KindJoin, Name: "Jonas", Token: joined.Token}}
	waitFor[protocol.Joined](t, p1b)
	replay := waitFor[protocol.Question](t, p1b)
	assert.Equal(t, 1, replay.Index)
	assert.Zero(t, replay.Timer, "replays omit the timer")

	// Not yet locked, so the rejoined player can still vote this round.
	s.Inbox() <- FromConn{ConnID: "c1b", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}
	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}}
	r2 := waitFor[protocol.Reveal](t, p1b)
	assert.Greater(t, r2.Scores["Jonas"], scoreBefore, "history and score survived the disconnect")
}

func TestSession_FullRunReachesFinalScoreboard(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	host := attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindStart}}

	sawHalftime := false
	for q := 0; q < 4; q++ {
		waitFor[protocol.Question](t, p1)
		s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Answer{Type: protocol.KindAnswer, Option: 1}}
		s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}} // reveal
		waitFor[protocol.Reveal](t, p1)
		s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}} // advance
		if q == 1 {
			ht := waitFor[protocol.Halftime](t, p1)
			require.Len(t, ht.Scores, 1)
			assert.Equal(t, 2, ht.Scores[0].Correct)
			sawHalftime = true
			s.Inbox() <- FromConn{ConnID: "host", Msg: protocol.Control{Type: protocol.KindNext}} // resume
		}
	}

	require.True(t, sawHalftime)
	sb := waitFor[protocol.Scoreboard](t, host)
	require.Len(t, sb.Scores, 1)
	assert.Equal(t, "Jonas", sb.Scores[0].Name)
	assert.Equal(t, 4, sb.Scores[0].Correct)
	assert.Len(t, sb.Scores[0].Answers, 4, "final standings carry full history")

	view := recvView(t, s)
	assert.Equal(t, engine.PhaseFinal, view.Phase)
}

func TestSession_HostLeavingEndsRoom(t *testing.T) {
	closed := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := New(ctx, testBundle(), 30*time.Second, 0, zap.NewNop(), func() { close(closed) })

	hostOut := make(chan any, 32)
	s.Inbox() <- Attach{ConnID: "host", Outbox: hostOut}
	waitFor[protocol.Lobby](t, hostOut)

	s.Inbox() <- Detach{ConnID: "host"}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("room did not close after host left")
	}
}

func TestSession_DetachClosesOutbox(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	attach(t, s, "host")
	p1 := attach(t, s, "c1")
	join(t, s, "c1", "Jonas", p1)

	s.Inbox() <- Detach{ConnID: "c1"}

	// The transport's writer goroutine ranges the outbox; a detach must
	// close it or that goroutine never exits.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p1:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox never closed after detach")
		}
	}
}

func TestSession_SlowConnectionIsParked(t *testing.T) {
	s := newTestSession(t, 30*time.Second)
	attach(t, s, "host")

	// A one-slot outbox fills with the attach roster; the join confirmation
	// overflows it and the connection is dropped as slow.
	out := make(chan any, 1)
	s.Inbox() <- Attach{ConnID: "c1", Outbox: out}
	s.Inbox() <- FromConn{ConnID: "c1", Msg: protocol.Join{Type: protocol.KindJoin, Name: "Jonas"}}

	view := recvView(t, s)
	assert.Equal(t, 1, view.NumConns, "only the host stays connected")
	assert.Equal(t, []string{"Jonas"}, view.Disconnected, "dropped player is parked, not shown live")

	_, ok := <-out // attach roster
	require.True(t, ok)
	_, ok = <-out
	assert.False(t, ok, "dropped connection's outbox is closed")
}

func TestSession_DoneClosesWhenRoomEnds(t *testing.T) {
	s := newTestSession(t, 30*time.Second)

	select {
	case <-s.Done():
		t.Fatal("done closed before the room ended")
	default:
	}

	s.Inbox() <- Shutdown{}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done never closed after shutdown")
	}
}

func TestSession_NeverJoinedRoomIsReaped(t *testing.T) {
	closed := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	New(ctx, testBundle(), 30*time.Second, 50*time.Millisecond, zap.NewNop(), func() { close(closed) })

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("room with no connections was never reaped")
	}
}

func TestSession_IdleTimerCanceledByAttach(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := New(ctx, testBundle(), 30*time.Second, 50*time.Millisecond, zap.NewNop(), nil)

	out := make(chan any, 32)
	s.Inbox() <- Attach{ConnID: "host", Outbox: out}
	waitFor[protocol.Lobby](t, out)

	time.Sleep(150 * time.Millisecond)
	view := recvView(t, s)
	assert.Equal(t, 1, view.NumConns, "attached room must not be reaped")
}
