// Package allowlist matches hostnames against glob-pattern allowlists.
//
// Matching is case-insensitive. An empty pattern set denies every host:
// there is no implicit allow-all. A wildcard pattern "*.example.com"
// matches subdomains only — it does NOT match the bare "example.com".
// Callers that want both must list both. This asymmetry is intentional:
// it keeps the matching semantics of the pattern language literal instead
// of inventing special cases, and it lets an operator allowlist
// subdomains without implicitly trusting the apex.
package allowlist

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Entry is one compiled allowlist pattern.
type Entry struct {
	Pattern string
	g       glob.Glob
}

// Matcher holds a base allowlist plus optional per-agent additive extras.
// The base set is immutable after construction; per-agent extras registered
// at runtime (from agent records) live in a sync.Map so concurrent Allowed
// calls need no locking.
type Matcher struct {
	base    []Entry
	dynamic sync.Map // agentID → []Entry, registered after construction
}

// Compile builds a Matcher from raw glob pattern strings. Patterns are
// folded to lowercase before compilation so matching is case-insensitive.
// Invalid patterns are rejected rather than silently dropped — a typo in
// an allowlist must surface at startup, not as a runtime deny.
func Compile(patterns []string) (*Matcher, error) {
	base, err := compileEntries(patterns)
	if err != nil {
		return nil, err
	}
	return &Matcher{base: base}, nil
}

// Allowed reports whether host matches the base allowlist. An empty base
// set with no extras denies everything.
func (m *Matcher) Allowed(host string) bool {
	return m.AllowedForAgent(host, "")
}

// AllowedForAgent reports whether host matches the base allowlist or the
// extra patterns registered for agentID.
func (m *Matcher) AllowedForAgent(host, agentID string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}

	for _, e := range m.base {
		if e.g.Match(host) {
			return true
		}
	}
	if agentID != "" {
		if v, ok := m.dynamic.Load(agentID); ok {
			for _, e := range v.([]Entry) {
				if e.g.Match(host) {
					return true
				}
			}
		}
	}
	return false
}

// RegisterAgentExtras compiles and stores additive patterns for agentID,
// replacing any previously registered dynamic set for that agent. Invalid
// patterns leave the previous set in place.
func (m *Matcher) RegisterAgentExtras(agentID string, patterns []string) error {
	if agentID == "" {
		return fmt.Errorf("allowlist: empty agent ID")
	}
	entries, err := compileEntries(patterns)
	if err != nil {
		return err
	}
	m.dynamic.Store(agentID, entries)
	return nil
}

// Patterns returns the base pattern strings, for logging and diagnostics.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.base))
	for i, e := range m.base {
		out[i] = e.Pattern
	}
	return out
}

func compileEntries(patterns []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		// The separator argument makes "*" stop at dots, so
		// "*.example.com" matches "api.example.com" but we want it to
		// also match "a.b.example.com" — compile without separators.
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allowlist: invalid pattern %q: %w", p, err)
		}
		entries = append(entries, Entry{Pattern: p, g: g})
	}
	return entries, nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return host
}
