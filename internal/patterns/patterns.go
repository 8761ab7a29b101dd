// Package patterns implements deterministic detection of destructive or
// exfiltrating command strings and sensitive file paths. These checks are
// intentionally regex- and table-driven, not model-based: they must be
// fast, deterministic, and independent of any model that produced the
// command being inspected.
package patterns

import (
	"fmt"
	"regexp"
	"strings"
)

// BlockedPattern is a compiled rule: a regular expression paired with a
// human-readable reason and a category tag.
type BlockedPattern struct {
	Regex    *regexp.Regexp
	Raw      string
	Reason   string
	Category string
}

// Spec is the uncompiled configuration form of a blocked pattern.
type Spec struct {
	Regex    string `yaml:"regex" json:"regex"`
	Reason   string `yaml:"reason" json:"reason"`
	Category string `yaml:"category" json:"category"`
}

// Pattern categories.
const (
	CategoryDestructive  = "destructive"
	CategoryExfiltration = "exfiltration"
	CategoryPrivilege    = "privilege"
)

// defaultSpecs is the hardcoded fallback pattern set, used whenever the
// configured pattern list is absent or malformed. Falling back here keeps
// the guard armed; the guard is never disabled by bad configuration.
var defaultSpecs = []Spec{
	{`(?i)\brm\s+-(r[a-z]*f|f[a-z]*r)[a-z]*\s+(/\S*|~\S*|\$HOME\S*|\*)`, "recursive force-delete of a critical path", CategoryDestructive},
	{`(?i)\bdd\s+if=\S+\s+of=/dev/`, "raw write to a block device", CategoryDestructive},
	{`(?i)\bmkfs(\.[a-z0-9]+)?\b`, "filesystem creation destroys existing data", CategoryDestructive},
	{`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, "fork bomb", CategoryDestructive},
	{`(?i)>\s*/dev/(sd|hd|nvme|vd)[a-z0-9]*`, "redirect onto a block device", CategoryDestructive},
	{`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/(\s|$)`, "world-writable root filesystem", CategoryDestructive},
	{`(?i)\b(shutdown|reboot|halt|poweroff)\b`, "host power-state change", CategoryDestructive},
	{`(?i)\bcurl\b[^\n]*\s(-d|--data[-a-z]*|-T|--upload-file|-F|--form)\s+@`, "uploading a local file to a remote host", CategoryExfiltration},
	{`(?i)\bwget\b[^\n]*--post-file[= ]`, "posting a local file to a remote host", CategoryExfiltration},
	{`(?i)\bnc(at)?\b[^\n]*\s<\s*\S+`, "piping a local file into netcat", CategoryExfiltration},
	{`(?i)\bbase64\b[^\n]*\s(/etc/|~/\.ssh|~/\.aws)`, "encoding credential material", CategoryExfiltration},
	{`(?i)\bsudo\s+su\b`, "privilege escalation to root shell", CategoryPrivilege},
	{`(?i)\bchown\s+-R\s+\S+\s+/(\s|$)`, "recursive ownership change of root", CategoryPrivilege},
}

// Compile builds blocked patterns from configuration specs. A single bad
// regex fails the whole set so the caller can fall back to the defaults
// rather than run with a silently thinned-out list.
func Compile(specs []Spec) ([]BlockedPattern, error) {
	out := make([]BlockedPattern, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return nil, fmt.Errorf("patterns: invalid regex %q: %w", s.Regex, err)
		}
		category := s.Category
		if category == "" {
			category = CategoryDestructive
		}
		out = append(out, BlockedPattern{
			Regex:    re,
			Raw:      s.Regex,
			Reason:   s.Reason,
			Category: category,
		})
	}
	return out, nil
}

// DefaultBlockedPatterns returns the compiled hardcoded fallback set.
func DefaultBlockedPatterns() []BlockedPattern {
	pats, err := Compile(defaultSpecs)
	if err != nil {
		// Defaults are compile-time constants; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return pats
}

var singleQuoted = regexp.MustCompile(`'[^']*'`)

// StripSingleQuoted replaces single-quoted substrings with an empty quoted
// literal. Shell single quotes are inert — a blocked keyword appearing only
// inside one cannot execute, so matching it would be a false block (e.g.
// echo 'rm -rf /' is a harmless print). Double-quoted strings are left
// alone: they can still contain live, expandable content ("$(...)" etc).
func StripSingleQuoted(s string) string {
	return singleQuoted.ReplaceAllString(s, "''")
}

// Match evaluates text against the blocked patterns and returns the first
// match, or nil. Matching runs on the full, unsplit text after quote
// stripping: some dangerous constructs (fork bombs, multi-stage pipes)
// deliberately span statement boundaries and would vanish if we only
// checked individual split segments.
func Match(text string, pats []BlockedPattern) *BlockedPattern {
	stripped := StripSingleQuoted(text)
	for i := range pats {
		if pats[i].Regex.MatchString(stripped) {
			return &pats[i]
		}
	}
	return nil
}

// networkCommands are programs whose primary purpose is moving data over
// the network.
var networkCommands = map[string]bool{
	"curl": true, "wget": true, "nc": true, "ncat": true, "netcat": true,
	"ssh": true, "scp": true, "sftp": true, "ftp": true, "rsync": true,
	"telnet": true, "socat": true,
}

// IsNetworkCommand reports whether name is a network-touching program.
// The caller is expected to pass a bare program name (path stripped).
func IsNetworkCommand(name string) bool {
	return networkCommands[baseName(name)]
}

func baseName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
