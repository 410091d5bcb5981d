package models

import "time"

// Rule is a named redirection scoped to one account: messages arriving on any
// source conversation are forwarded to every destination conversation.
// Rule names are unique per account, not globally.
type Rule struct {
	Account      string    `json:"account"`
	Name         string    `json:"name"`
	Sources      []int64   `json:"sources"`
	Destinations []int64   `json:"destinations"`
	Active       bool      `json:"active"`
	DelaySec     int       `json:"delaySec"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasSource reports whether convo is one of the rule's source conversations.
func (r *Rule) HasSource(convo int64) bool {
	for _, s := range r.Sources {
		if s == convo {
			return true
		}
	}
	return false
}

// FilterKind distinguishes the two independent pattern sets a rule carries.
type FilterKind string

const (
	FilterWhitelist FilterKind = "whitelist"
	FilterBlacklist FilterKind = "blacklist"
)

// FilterSet is an ordered list of patterns attached to one rule. Patterns
// wrapped in double quotes match as literal substrings; anything else is
// treated as a regular expression.
type FilterSet struct {
	Account  string     `json:"account"`
	RuleName string     `json:"ruleName"`
	Kind     FilterKind `json:"kind"`
	Patterns []string   `json:"patterns"`
	Active   bool       `json:"active"`
}

// TransformSpec holds the three optional text transformation stages for one
/// rule. Stage order is fixed: RemoveLines, then Power, then Format.
type TransformSpec struct {
	Account     string   `json:"account"`
	RuleName    string   `json:"ruleName"`
	Format      string   `json:"format,omitempty"`
	PowerRules  []string `json:"powerRules,omitempty"`
	RemoveLines []string `json:"removeLines,omitempty"`
}

// IsZero reports whether no stage is configured.
func (t *TransformSpec) IsZero() bool {
	return t.Format == "" && len(t.PowerRules) == 0 && len(t.RemoveLines) == 0
}
