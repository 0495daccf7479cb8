package complexity

import "strings"

// Level is an ordered complexity scale.
type Level int

const (
	LevelTrivial Level = iota
	LevelSimple
	LevelModerate
	LevelComplex
	LevelExpert
)

var levelNames = [...]string{"trivial", "simple", "moderate", "complex", "expert"}

func (l Level) String() string {
	if l < LevelTrivial || l > LevelExpert {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel accepts a level name, case insensitive.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), true
		}
	}
	return LevelTrivial, false
}

// Levels lists every level from low to high.
func Levels() []Level {
	return []Level{LevelTrivial, LevelSimple, LevelModerate, LevelComplex, LevelExpert}
}

// EnsureMinComplexity raises level to min. It never lowers it.
func EnsureMinComplexity(level, min Level) Level {
	if level < min {
		return min
	}
	return level
}
