package routing

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher compiles rule patterns once and caches them. Invalid patterns are
// cached as nil and never match.
type Matcher struct {
	cache sync.Map // matchType + "\x00" + pattern -> *regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match reports whether message matches the rule pattern.
func (m *Matcher) Match(matchType, pattern, message string) bool {
	re := m.compile(matchType, pattern)
	return re != nil && re.MatchString(message)
}

func (m *Matcher) compile(matchType, pattern string) *regexp.Regexp {
	key := matchType + "\x00" + pattern
	if cached, ok := m.cache.Load(key); ok {
		return cached.(*regexp.Regexp)
	}

	var source string
	switch matchType {
	case MatchRegex:
		source = pattern
	case MatchKeyword, "":
		source = keywordSource(pattern)
	}

	var re *regexp.Regexp
	if source != "" {
		re, _ = regexp.Compile(source)
	}
	actual, _ := m.cache.LoadOrStore(key, re)
	return actual.(*regexp.Regexp)
}

// keywordSource turns "a|b|c" into an alternation of literal keywords.
func keywordSource(pattern string) string {
	parts := strings.Split(pattern, "|")
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	if len(quoted) == 0 {
		return ""
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}
