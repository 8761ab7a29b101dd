package guard

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Entry binds a guard to the tool names it applies to. FailOpen turns
// internal guard failures (errors or panics) into allows instead of blocks;
// it is opt-in per entry and the content guard never gets one because it
// reports classifier failures as block verdicts, not errors.
type Entry struct {
	Guard    Guard
	Tools    []string
	FailOpen bool
}

func (e Entry) applies(toolName string) bool {
	for _, t := range e.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// Pipeline runs guards against invocations in registration order. Callers
// register deterministic guards before probabilistic ones so cheap rule
// checks decide first.
type Pipeline struct {
	entries []Entry
	schemas *SchemaSet
	logger  *zap.Logger
}

// NewPipeline builds a pipeline. schemas may be nil to skip parameter
// validation.
func NewPipeline(entries []Entry, schemas *SchemaSet, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{entries: entries, schemas: schemas, logger: logger}
}

// Evaluate runs the invocation through parameter validation and every
// applicable guard. The first block verdict short-circuits; otherwise a warn
// from any guard wins over allow.
func (p *Pipeline) Evaluate(ctx context.Context, inv *Invocation) Verdict {
	if p.schemas != nil {
		if err := p.schemas.Validate(inv.ToolName, inv.Params); err != nil {
			return Block("params", "schema",
				fmt.Sprintf("invalid parameters for %s: %v", inv.ToolName, err))
		}
	}

	final := Allow()
	for _, e := range p.entries {
		if !e.applies(inv.ToolName) {
			continue
		}
		v := p.runGuard(ctx, e, inv)
		switch v.Decision {
		case DecisionBlock:
			p.logger.Info("invocation blocked",
				zap.String("agent_id", inv.AgentID),
				zap.String("tool", inv.ToolName),
				zap.String("guard", v.Guard),
				zap.String("category", v.Category),
				zap.String("reason", v.Reason))
			return v
		case DecisionWarn:
			if final.Decision != DecisionWarn {
				final = v
			}
		}
	}
	return final
}

// runGuard isolates a single guard: panics and errors are converted to
// verdicts here so one broken guard cannot take the pipeline down.
func (p *Pipeline) runGuard(ctx context.Context, e Entry, inv *Invocation) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("guard panicked",
				zap.String("guard", e.Guard.Name()),
				zap.String("tool", inv.ToolName),
				zap.Any("panic", r))
			v = p.failVerdict(e, inv, fmt.Sprintf("guard %s failed", e.Guard.Name()))
		}
	}()

	verdict, err := e.Guard.Evaluate(ctx, inv)
	if err != nil {
		p.logger.Warn("guard returned error",
			zap.String("guard", e.Guard.Name()),
			zap.String("tool", inv.ToolName),
			zap.Error(err))
		return p.failVerdict(e, inv, fmt.Sprintf("guard %s could not evaluate the invocation", e.Guard.Name()))
	}
	return verdict
}

// failVerdict resolves an internal guard failure. Fail-open comes from the
// entry's own flag or the agent's preference on the invocation; the content
// guard always fails closed, whatever the agent asked for.
func (p *Pipeline) failVerdict(e Entry, inv *Invocation, reason string) Verdict {
	failOpen := e.FailOpen || (inv.FailOpen && e.Guard.Name() != ContentGuardName)
	if failOpen {
		p.logger.Warn("guard failure allowed through, fail-open set",
			zap.String("guard", e.Guard.Name()),
			zap.String("agent_id", inv.AgentID))
		return Allow()
	}
	return Block(e.Guard.Name(), "internal", reason)
}
