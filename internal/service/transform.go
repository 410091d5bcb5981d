package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"telefeed/internal/models"
)

// FormatPlaceholder is the token in a format template that is replaced with
// the message text. Everything around it is preserved verbatim.
const FormatPlaceholder = "[[Message.Text]]"

var literalPairRe = regexp.MustCompile(`^"(.*)","(.*)"$`)

// TransformPipeline applies the three optional text stages of a rule in
// fixed order: RemoveLines, then Power, then Format. The order never varies
// per rule; changing it changes output.
type TransformPipeline struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

func NewTransformPipeline() *TransformPipeline {
	return &TransformPipeline{
		cache: make(map[string]*regexp.Regexp),
	}
}

// Apply runs the configured stages over text. A stage with no configuration
// is a no-op. An invalid power rule aborts the whole transform with an error;
// callers must not deliver partially transformed output.
func (t *TransformPipeline) Apply(text string, spec *models.TransformSpec) (string, error) {
	if spec == nil || spec.IsZero() {
		return text, nil
	}

	text = removeLines(text, spec.RemoveLines)

	var err error
	text, err = t.applyPower(text, spec.PowerRules)
	if err != nil {
		return "", err
	}

	return applyFormat(text, spec.Format), nil
}

// removeLines drops every line containing any keyword as a substring. A
// single-line message whose line matches becomes the empty string.
func removeLines(text string, keywords []string) string {
	if len(keywords) == 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		matched := false
		for _, keyword := range keywords {
			if keyword != "" && strings.Contains(line, keyword) {
				matched = true
				break
			}
		}
		if !matched {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// applyPower runs each entry in list order over the previous entry's output.
// Entries are either a `"old","new"` literal pair or a `pattern=replacement`
// regex substitution applied globally with . matching newlines.
func (t *TransformPipeline) applyPower(text string, rules []string) (string, error) {
	for _, rule := range rules {
		if m := literalPairRe.FindStringSubmatch(rule); m != nil {
			text = strings.ReplaceAll(text, m[1], m[2])
			continue
		}

		idx := strings.Index(rule, "=")
		if idx < 0 {
			return "", fmt.Errorf("invalid power rule %q: expected pattern=replacement or \"old\",\"new\"", rule)
		}

		pattern, replacement := rule[:idx], rule[idx+1:]
		re, err := t.compile("(?s)" + pattern)
		if err != nil {
			return "", fmt.Errorf("invalid power rule %q: %w", rule, err)
		}
		text = re.ReplaceAllString(text, replacement)
	}
	return text, nil
}

func applyFormat(text, format string) string {
	if format == "" {
		return text
	}
	return strings.ReplaceAll(format, FormatPlaceholder, text)
}

func (t *TransformPipeline) compile(pattern string) (*regexp.Regexp, error) {
	t.mu.RLock()
	re, seen := t.cache[pattern]
	t.mu.RUnlock()
	if seen {
		if re == nil {
			return nil, fmt.Errorf("pattern previously failed to compile")
		}
		return re, nil
	}

	compiled, err := regexp.Compile(pattern)

	t.mu.Lock()
	t.cache[pattern] = compiled
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return compiled, nil
}
