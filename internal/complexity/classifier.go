package complexity

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Input is what a classifier sees of a request.
type Input struct {
	Message  string
	Context  []string
	HasTools bool
}

type Classification struct {
	Level   Level
	Latency time.Duration
}

// Classifier assigns a complexity level to a request.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Classification, error)
}

var reasoningMarkers = []string{
	"step by step", "prove", "derive", "analyze", "analyse", "architecture",
	"design a", "optimize", "trade-off", "tradeoff", "compare", "explain why",
	"证明", "推导", "分析", "架构", "设计", "优化", "比较",
}

var codeMarkers = []string{
	"func ", "def ", "class ", "import ", "select ", "#include", "=>", "();", "代码",
}

// HeuristicClassifier scores a request from cheap lexical signals: length,
// code, reasoning vocabulary, conversation depth and tool use.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (h *HeuristicClassifier) Classify(_ context.Context, in Input) (Classification, error) {
	start := time.Now()
	level := h.level(in)
	return Classification{Level: level, Latency: time.Since(start)}, nil
}

func (h *HeuristicClassifier) level(in Input) Level {
	msg := strings.ToLower(in.Message)
	runes := utf8.RuneCountInString(msg)
	points := 0

	switch {
	case runes > 2000:
		points += 3
	case runes > 800:
		points += 2
	case runes > 200:
		points++
	}

	if strings.Contains(msg, "```") {
		points += 2
	} else if containsAny(msg, codeMarkers) {
		points++
	}

	reasoning := 0
	for _, marker := range reasoningMarkers {
		if strings.Contains(msg, marker) {
			reasoning++
		}
	}
	points += min(reasoning, 2)

	if len(in.Context) >= 6 {
		points++
	}
	if in.HasTools {
		points++
	}

	switch {
	case points == 0 && runes < 20:
		return LevelTrivial
	case points <= 1:
		return LevelSimple
	case points <= 3:
		return LevelModerate
	case points <= 5:
		return LevelComplex
	default:
		return LevelExpert
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
