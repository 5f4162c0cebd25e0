package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Join(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join","name":"Jonas","token":"abc-123"}`))
	require.NoError(t, err)

	join, ok := msg.(Join)
	require.True(t, ok, "expected Join, got %T", msg)
	assert.Equal(t, "Jonas", join.Name)
	assert.Equal(t, "abc-123", join.Token)
}

func TestDecode_Answer(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"answer","option":2}`))
	require.NoError(t, err)

	ans, ok := msg.(Answer)
	require.True(t, ok, "expected Answer, got %T", msg)
	assert.Equal(t, 2, ans.Option)
}

func TestDecode_ControlKinds(t *testing.T) {
	for _, kind := range []Kind{KindStart, KindLock, KindNext} {
		msg, err := Decode([]byte(`{"type":"` + string(kind) + `"}`))
		require.NoError(t, err)
		ctl, ok := msg.(Control)
		require.True(t, ok, "expected Control for %q, got %T", kind, msg)
		assert.Equal(t, kind, ctl.Type)
	}
}

func TestDecode_Question(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"question","index":3,"total":10,"question":"Hvem?","options":["a","b"],"timer":30}`))
	require.NoError(t, err)

	q, ok := msg.(Question)
	require.True(t, ok, "expected Question, got %T", msg)
	assert.Equal(t, 3, q.Index)
	assert.Equal(t, 10, q.Total)
	assert.Equal(t, []string{"a", "b"}, q.Options)
	assert.Equal(t, 30, q.Timer)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_MalformedHead(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_WrongFieldType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"answer","option":"two"}`))
	assert.Error(t, err)
}

func TestQuestion_TimerOmittedOnReplay(t *testing.T) {
	data, err := json.Marshal(Question{Type: KindQuestion, Index: 1, Total: 4, Question: "q", Options: []string{"a"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"timer"`, "zero timer must be omitted so replays carry no countdown")
}

func TestReveal_DetailOmittedForPlayers(t *testing.T) {
	data, err := json.Marshal(Reveal{Type: KindReveal, Correct: 1, CorrectText: "b", Scores: map[string]int{}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"detail"`)
}
