package quiz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Valid(t *testing.T) {
	b, err := Load([]byte(`{
		"questions": [
			{"question":"Hvem?","options":["a","b","c"],"correct":1,"reveal":"b it is","chartId":"leaderboard"}
		],
		"charts": {"leaderboard":{"labels":["a"],"data":[1]}}
	}`))
	require.NoError(t, err)

	require.Len(t, b.Questions, 1)
	assert.Equal(t, "Hvem?", b.Questions[0].Prompt)
	assert.Equal(t, 1, b.Questions[0].Correct)
	assert.Contains(t, b.Charts, "leaderboard")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty questions", `{"questions":[]}`},
		{"no options", `{"questions":[{"question":"q","options":[],"correct":0}]}`},
		{"correct out of range", `{"questions":[{"question":"q","options":["a","b"],"correct":2}]}`},
		{"negative correct", `{"questions":[{"question":"q","options":["a","b"],"correct":-1}]}`},
		{"not json", `{"questions":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_EmbeddedDefault(t *testing.T) {
	b, err := LoadFile("")
	require.NoError(t, err)
	assert.NotEmpty(t, b.Questions, "embedded bundle ships with questions")

	for i, q := range b.Questions {
		assert.NotEmpty(t, q.Prompt, "question %d has no prompt", i)
		if q.ChartID != "" {
			assert.Contains(t, b.Charts, q.ChartID, "question %d references a missing chart", i)
		}
	}
}

func TestLoadFile_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"questions":[{"question":"q","options":["a","b"],"correct":0}]}`), 0o644))

	b, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, b.Questions, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
