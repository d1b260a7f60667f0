// Package flags parses the run-mode selection string into a FlagSet and
// resolves it against the closed set of known features.
//
// Parsing is lenient: tokens are split on ",", trimmed and lowercased, empty
// tokens are dropped and duplicates collapse. Unknown tokens are kept in the
// FlagSet but never enable anything.
package flags

import (
	"sort"
	"strings"
)

// DefaultRunMode is used when no selection string is configured.
const DefaultRunMode = "infra-only"

// =============================================================================
// FlagSet
// =============================================================================

// FlagSet is an immutable set of lowercase tokens.
type FlagSet struct {
	tokens map[string]struct{}
}

// Parse splits raw into a FlagSet.
//
// Example:
//
//	Parse("Platform:BE, platform:be+fe , ")
//	// {"platform:be", "platform:be+fe"}
func Parse(raw string) FlagSet {
	fs := FlagSet{tokens: make(map[string]struct{})}
	for _, part := range strings.Split(raw, ",") {
		tok := strings.ToLower(strings.TrimSpace(part))
		if tok == "" {
			continue
		}
		fs.tokens[tok] = struct{}{}
	}
	return fs
}

// ParseOrDefault parses raw, falling back to DefaultRunMode when raw holds
// no tokens at all.
func ParseOrDefault(raw string) FlagSet {
	fs := Parse(raw)
	if fs.Len() == 0 {
		return Parse(DefaultRunMode)
	}
	return fs
}

// Has reports whether tok (compared lowercase) is in the set.
func (fs FlagSet) Has(tok string) bool {
	_, ok := fs.tokens[strings.ToLower(strings.TrimSpace(tok))]
	return ok
}

// Len returns the number of distinct tokens.
func (fs FlagSet) Len() int {
	return len(fs.tokens)
}

// Tokens returns the tokens sorted lexically.
func (fs FlagSet) Tokens() []string {
	out := make([]string, 0, len(fs.tokens))
	for tok := range fs.tokens {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// String renders the set in canonical form ("a,b,c").
func (fs FlagSet) String() string {
	return strings.Join(fs.Tokens(), ",")
}

// Features resolves the set against the known features, applying
// implication rules once.
func (fs FlagSet) Features() Features {
	enabled := make(map[Feature]bool)
	var visit func(f Feature)
	visit = func(f Feature) {
		if enabled[f] {
			return
		}
		enabled[f] = true
		for _, implied := range implications[f] {
			visit(implied)
		}
	}
	for _, f := range AllFeatures() {
		if fs.Has(string(f)) {
			visit(f)
		}
	}
	return Features{enabled: enabled}
}
