// Package guard orchestrates the per-tool safety checks that run before a
// tool call is allowed through the gateway. A Pipeline holds an ordered set
// of guards; each guard inspects one aspect of the invocation (target URL,
// command text, message content) and produces a verdict. The pipeline merges
// verdicts with block > warn > allow precedence.
package guard

import (
	"context"
	"fmt"
)

// Decision is the outcome of evaluating an invocation.
type Decision int

const (
	DecisionAllow Decision = iota + 1
	DecisionWarn
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionWarn:
		return "warn"
	case DecisionBlock:
		return "block"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Verdict is a single guard's (or the whole pipeline's) judgment of an
// invocation. Guard and Category identify which check fired; Reason is the
// human-readable explanation for a block, Advisory the note attached to a
// warn.
type Verdict struct {
	Decision Decision `json:"decision"`
	Guard    string   `json:"guard,omitempty"`
	Category string   `json:"category,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Advisory string   `json:"advisory,omitempty"`
}

// Allow returns an allow verdict.
func Allow() Verdict {
	return Verdict{Decision: DecisionAllow}
}

// Warn returns a warn verdict attributed to the named guard.
func Warn(guard, category, advisory string) Verdict {
	return Verdict{Decision: DecisionWarn, Guard: guard, Category: category, Advisory: advisory}
}

// Block returns a block verdict attributed to the named guard.
func Block(guard, category, reason string) Verdict {
	return Verdict{Decision: DecisionBlock, Guard: guard, Category: category, Reason: reason}
}

// Invocation is one tool call presented for evaluation. FailOpen carries the
// agent's own preference for internal guard failures; it widens only the
// deterministic guards, never the content guard.
type Invocation struct {
	ToolName string
	AgentID  string
	Params   map[string]any
	FailOpen bool
}

var (
	urlKeys     = []string{"url", "uri", "target", "href"}
	commandKeys = []string{"command", "cmd", "script"}
	pathKeys    = []string{"path", "file", "file_path", "filename"}
	textKeys    = []string{"text", "content", "message", "body", "prompt"}
)

func (inv *Invocation) stringParam(keys []string) string {
	for _, k := range keys {
		if v, ok := inv.Params[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// URL returns the target URL parameter, if the invocation carries one.
func (inv *Invocation) URL() string { return inv.stringParam(urlKeys) }

// Command returns the shell command parameter, if present.
func (inv *Invocation) Command() string { return inv.stringParam(commandKeys) }

// Path returns the filesystem path parameter, if present.
func (inv *Invocation) Path() string { return inv.stringParam(pathKeys) }

// Text returns the free-text content parameter, if present.
func (inv *Invocation) Text() string { return inv.stringParam(textKeys) }

// Guard inspects one aspect of an invocation. Evaluate returns an error only
// for internal failures (the pipeline decides whether those fail open or
// closed); policy rejections are expressed as block verdicts.
type Guard interface {
	Name() string
	Evaluate(ctx context.Context, inv *Invocation) (Verdict, error)
}
