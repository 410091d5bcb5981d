package service

import (
	"regexp"
	"strings"
	"sync"

	"telefeed/internal/models"

	"github.com/sirupsen/logrus"
)

// FilterEngine decides pass/drop for message text against a rule's whitelist
// and blacklist. Evaluation is pure; compiled regexes are cached.
type FilterEngine struct {
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

func NewFilterEngine(logger *logrus.Logger) *FilterEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &FilterEngine{
		logger: logger,
		cache:  make(map[string]*regexp.Regexp),
	}
}

// ShouldProcess applies the blacklist first: any active blacklist match drops
// the message immediately, regardless of the whitelist. The whitelist, when
// active, requires at least one match; an active whitelist with no patterns
// therefore passes nothing. An inactive list is ignored entirely.
func (f *FilterEngine) ShouldProcess(text string, sets []models.FilterSet) bool {
	var whitelist *models.FilterSet
	for i := range sets {
		set := &sets[i]
		if !set.Active {
			continue
		}
		switch set.Kind {
		case models.FilterBlacklist:
			if f.anyMatch(text, set.Patterns) {
				return false
			}
		case models.FilterWhitelist:
			whitelist = set
		}
	}

	if whitelist != nil {
		return f.anyMatch(text, whitelist.Patterns)
	}
	return true
}

func (f *FilterEngine) anyMatch(text string, patterns []string) bool {
	for _, pattern := range patterns {
		if f.matches(text, pattern) {
			return true
		}
	}
	return false
}

// matches treats patterns wrapped in double quotes as literal substrings and
// everything else as a regular expression. A pattern that fails to compile
// never matches; the bad pattern is logged once per process via the cache.
func (f *FilterEngine) matches(text, pattern string) bool {
	if literal, ok := quotedLiteral(pattern); ok {
		return strings.Contains(text, literal)
	}

	re := f.compile(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(text)
}

func (f *FilterEngine) compile(pattern string) *regexp.Regexp {
	f.mu.RLock()
	re, seen := f.cache[pattern]
	f.mu.RUnlock()
	if seen {
		return re
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		f.logger.WithField("pattern", pattern).WithError(err).Warn("Invalid filter pattern, treating as non-matching")
		compiled = nil
	}

	f.mu.Lock()
	f.cache[pattern] = compiled
	f.mu.Unlock()
	return compiled
}

// quotedLiteral unwraps `"text"` into a literal substring pattern.
func quotedLiteral(pattern string) (string, bool) {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, `"`) && strings.HasSuffix(pattern, `"`) {
		return pattern[1 : len(pattern)-1], true
	}
	return "", false
}
