package patterns

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safePipeTargets are data-processing tools that may legitimately consume
// fetched or generated output in a pipe chain. Anything not on this list
// is treated as an unknown consumer. The list is fixed: it is part of the
// policy, not of the configuration surface.
var safePipeTargets = map[string]bool{
	"jq": true, "yq": true,
	"grep": true, "egrep": true, "fgrep": true, "rg": true,
	"sed": true, "awk": true, "cut": true, "tr": true,
	"sort": true, "uniq": true, "head": true, "tail": true,
	"wc": true, "cat": true, "tee": true, "column": true,
	"fold": true, "paste": true, "comm": true, "join": true,
	"xxd": true, "base64": true, "less": true, "more": true,
}

// shellInterpreters are programs that execute whatever is fed to them.
// A pipe chain ending in one of these is never safe, no matter how benign
// the intermediate stages look.
var shellInterpreters = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true,
	"fish": true, "csh": true, "tcsh": true,
	"python": true, "python2": true, "python3": true,
	"perl": true, "ruby": true, "php": true, "node": true, "deno": true,
	"lua": true, "eval": true, "exec": true, "source": true,
}

// IsShellInterpreter reports whether name executes piped input.
func IsShellInterpreter(name string) bool {
	return shellInterpreters[baseName(name)]
}

// Pipelines splits a compound command into its pipe chains and returns the
// stage program names of each chain, in order. Statements joined by "&&",
// "||", and ";" become separate chains; stages joined by "|" or "|&" stay
// together.
//
// The command is parsed with a real bash grammar so quoting, redirects,
// and subshells do not confuse the stage boundaries. Input that does not
// parse as shell falls back to a plain textual split — a command we cannot
// parse still gets a best-effort check rather than a free pass.
func Pipelines(command string) [][]string {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return fallbackPipelines(command)
	}

	var chains [][]string
	for _, stmt := range file.Stmts {
		collectChains(stmt, &chains)
	}
	return chains
}

func collectChains(stmt *syntax.Stmt, chains *[][]string) {
	switch c := stmt.Cmd.(type) {
	case *syntax.BinaryCmd:
		if c.Op == syntax.Pipe || c.Op == syntax.PipeAll {
			var stages []string
			flattenPipe(stmt, &stages)
			if len(stages) > 0 {
				*chains = append(*chains, stages)
			}
			return
		}
		// "&&" and "||" — independent chains on each side.
		collectChains(c.X, chains)
		collectChains(c.Y, chains)
	case *syntax.CallExpr:
		if name := callName(c); name != "" {
			*chains = append(*chains, []string{name})
		}
	case *syntax.Subshell:
		for _, s := range c.Stmts {
			collectChains(s, chains)
		}
	case *syntax.Block:
		for _, s := range c.Stmts {
			collectChains(s, chains)
		}
	}
}

func flattenPipe(stmt *syntax.Stmt, stages *[]string) {
	if bc, ok := stmt.Cmd.(*syntax.BinaryCmd); ok && (bc.Op == syntax.Pipe || bc.Op == syntax.PipeAll) {
		flattenPipe(bc.X, stages)
		flattenPipe(bc.Y, stages)
		return
	}
	*stages = append(*stages, stageName(stmt))
}

// stageName returns the bare program name of a pipeline stage, or "" when
// the stage is not a plain call (e.g. a subshell) or its name is built
// from expansions. An empty name is deliberately NOT treated as safe.
func stageName(stmt *syntax.Stmt) string {
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return ""
	}
	return callName(call)
}

func callName(call *syntax.CallExpr) string {
	if len(call.Args) == 0 {
		return ""
	}
	return baseName(call.Args[0].Lit())
}

// fallbackPipelines is the textual splitter used when bash parsing fails.
// Single-quoted content is stripped first so quoted separators do not
// create phantom stages.
func fallbackPipelines(command string) [][]string {
	stripped := StripSingleQuoted(command)

	var chains [][]string
	for _, stmtText := range splitAny(stripped, "&&", "||", ";", "\n") {
		var stages []string
		for _, seg := range strings.Split(stmtText, "|") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			fields := strings.Fields(seg)
			if len(fields) > 0 {
				stages = append(stages, baseName(fields[0]))
			}
		}
		if len(stages) > 0 {
			chains = append(chains, stages)
		}
	}
	return chains
}

func splitAny(s string, seps ...string) []string {
	parts := []string{s}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}
	return parts
}

// UnsafePipe inspects the pipe chains of a command and reports the first
// unsafe one. Two rules apply:
//
//  1. A chain whose first stage is a network-touching command must consist
//     only of safe data-processing stages after that — the fetched bytes
//     must not reach an unknown consumer.
//  2. An interpreter in any non-first position is always unsafe: a chain
//     ending (or passing through) sh, python, etc. executes its input.
func UnsafePipe(command string) (reason string, unsafe bool) {
	for _, chain := range Pipelines(command) {
		if len(chain) < 2 {
			continue
		}

		for _, stage := range chain[1:] {
			if stage == "" {
				if IsNetworkCommand(chain[0]) {
					return "piped network output reaches an unrecognized stage", true
				}
				continue
			}
			if IsShellInterpreter(stage) {
				return "pipe chain feeds an interpreter (" + stage + ")", true
			}
		}

		if IsNetworkCommand(chain[0]) {
			for _, stage := range chain[1:] {
				if !safePipeTargets[stage] {
					return "network output piped to non-allowlisted tool (" + stage + ")", true
				}
			}
		}
	}
	return "", false
}
