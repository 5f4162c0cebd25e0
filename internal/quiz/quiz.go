// Package quiz holds the immutable inputs produced by the analytics
// precomputation stage: the ordered question list and the chart dataset
// bundle. The engine consumes these verbatim and never mutates them.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RankingRow is one row of the standings table shown on a reveal screen.
type RankingRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Question is a single quiz question. Correct indexes into Options.
type Question struct {
	Prompt  string       `json:"question"`
	Options []string     `json:"options"`
	Correct int          `json:"correct"`
	Reveal  string       `json:"reveal"`
	ChartID string       `json:"chartId,omitempty"`
	Ranking []RankingRow `json:"ranking,omitempty"`
}

// ChartDataset is one named dataset from the chart bundle. The engine only
// carries these through to the host screen; it never recomputes them.
type ChartDataset struct {
	Labels []string  `json:"labels,omitempty"`
	Data   []float64 `json:"data,omitempty"`
	Colors []string  `json:"colors,omitempty"`
}

// Bundle is the full immutable input set for one session.
type Bundle struct {
	Questions []Question              `json:"questions"`
	Charts    map[string]ChartDataset `json:"charts"`
}

var ErrNoQuestions = errors.New("quiz bundle contains no questions")

// Load parses a bundle produced by the analytics stage.
func Load(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse quiz bundle: %w", err)
	}
	if len(b.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	for i, q := range b.Questions {
		if len(q.Options) == 0 || q.Correct < 0 || q.Correct >= len(q.Options) {
			return nil, fmt.Errorf("question %d: correct index %d out of range", i, q.Correct)
		}
	}
	return &b, nil
}

// LoadFile reads a bundle from disk, falling back on the embedded default
// when path is empty.
func LoadFile(path string) (*Bundle, error) {
	if path == "" {
		return Load(defaultBundle)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}
