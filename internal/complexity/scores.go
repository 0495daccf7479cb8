package complexity

import (
	"strings"

	"github.com/nulzo/bot-router/internal/modeldata"
)

// DefaultScore is used for models the table does not recognise.
const DefaultScore = 50

// Scores looks up model capability scores. Unknown ids fall back to the
// longest table key contained in the id.
type Scores struct {
	table map[string]int
}

// NewScores starts from the built-in table and applies overrides.
func NewScores(overrides map[string]int) *Scores {
	table := modeldata.Scores()
	for id, score := range overrides {
		table[strings.ToLower(id)] = score
	}
	return &Scores{table: table}
}

func (s *Scores) Score(modelID string) int {
	id := strings.ToLower(modelID)
	if score, ok := s.table[id]; ok {
		return score
	}

	best, bestKey := DefaultScore, ""
	for key, score := range s.table {
		if !strings.Contains(id, key) {
			continue
		}
		if len(key) > len(bestKey) || (len(key) == len(bestKey) && key < bestKey) {
			best, bestKey = score, key
		}
	}
	return best
}

// Thresholds maps each level to the minimum capability score it needs.
type Thresholds map[Level]int

func DefaultThresholds() Thresholds {
	return Thresholds{
		LevelTrivial:  0,
		LevelSimple:   40,
		LevelModerate: 60,
		LevelComplex:  75,
		LevelExpert:   90,
	}
}

// NewThresholds applies name keyed overrides to the defaults. Unknown names
// are ignored.
func NewThresholds(overrides map[string]int) Thresholds {
	t := DefaultThresholds()
	for name, score := range overrides {
		if level, ok := ParseLevel(name); ok {
			t[level] = score
		}
	}
	return t
}
