package guard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/allowlist"
	"github.com/IT-HUSET/clawguard/internal/classify"
	"github.com/IT-HUSET/clawguard/internal/patterns"
	"github.com/IT-HUSET/clawguard/internal/urlcheck"
)

// Guard names, stable identifiers used in verdicts and decision events.
const (
	URLGuardName     = "url_safety"
	PatternGuardName = "command_patterns"
	ContentGuardName = "content_risk"
)

// URLGuard validates the target of network-fetching tools: scheme, hostname
// and resolved-address checks via the validator, then the domain allowlist.
// With an inspector attached it also pre-fetches the resource and classifies
// the fetched content before the real tool runs.
type URLGuard struct {
	validator *urlcheck.Validator
	matcher   *allowlist.Matcher
	inspector *classify.RiskClassifier
	logger    *zap.Logger
}

func NewURLGuard(v *urlcheck.Validator, m *allowlist.Matcher, logger *zap.Logger) *URLGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLGuard{validator: v, matcher: m, logger: logger}
}

// WithInspection enables pre-fetch content classification on validated URLs.
func (g *URLGuard) WithInspection(rc *classify.RiskClassifier) *URLGuard {
	g.inspector = rc
	return g
}

func (g *URLGuard) Name() string { return URLGuardName }

func (g *URLGuard) Evaluate(ctx context.Context, inv *Invocation) (Verdict, error) {
	raw := inv.URL()
	if raw == "" {
		return Allow(), nil
	}
	if err := g.validator.Validate(ctx, raw); err != nil {
		g.logger.Info("url rejected",
			zap.String("agent_id", inv.AgentID),
			zap.String("url", raw),
			zap.Error(err))
		return Block(g.Name(), "ssrf", err.Error()), nil
	}
	host := hostOf(raw)
	if !g.matcher.AllowedForAgent(host, inv.AgentID) {
		return Block(g.Name(), "allowlist",
			fmt.Sprintf("domain %q is not on the allowlist", host)), nil
	}
	if g.inspector != nil {
		return g.inspectContent(ctx, inv.AgentID, raw)
	}
	return Allow(), nil
}

// inspectContent pre-fetches the target and classifies the body. An
// unreachable resource has nothing to inspect, which is not the same as
// being unsafe, so fetch-level failures pass through. Policy rejections on
// a redirect hop still block.
func (g *URLGuard) inspectContent(ctx context.Context, agentID, raw string) (Verdict, error) {
	body, err := g.validator.Prefetch(ctx, raw)
	if err != nil {
		if errors.Is(err, urlcheck.ErrUnreachable) {
			g.logger.Debug("prefetch unreachable, skipping inspection",
				zap.String("agent_id", agentID),
				zap.String("url", raw),
				zap.Error(err))
			return Allow(), nil
		}
		return Block(g.Name(), "ssrf", err.Error()), nil
	}
	res := g.inspector.Evaluate(ctx, string(body))
	switch res.Tier {
	case classify.TierBlock:
		return Block(g.Name(), "content-risk",
			fmt.Sprintf("fetched content classified as risky (score %.2f)", res.Score)), nil
	case classify.TierWarn:
		return Warn(g.Name(), "content-risk",
			fmt.Sprintf("fetched content flagged for review (score %.2f)", res.Score)), nil
	default:
		return Allow(), nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return urlcheck.NormalizeHost(u.Hostname())
}

// urlInCommand finds http(s) URLs embedded in command text so that network
// commands get the same target checks as dedicated fetch tools.
var urlInCommand = regexp.MustCompile(`https?://[^\s'"<>|;&]+`)

// PatternGuard screens shell commands and file paths: blocked command
// patterns, unsafe pipe chains, sensitive path access, and allowlist checks
// on URLs embedded in network commands.
type PatternGuard struct {
	blocked   []patterns.BlockedPattern
	validator *urlcheck.Validator
	matcher   *allowlist.Matcher
	logger    *zap.Logger
}

func NewPatternGuard(blocked []patterns.BlockedPattern, v *urlcheck.Validator, m *allowlist.Matcher, logger *zap.Logger) *PatternGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternGuard{blocked: blocked, validator: v, matcher: m, logger: logger}
}

func (g *PatternGuard) Name() string { return PatternGuardName }

func (g *PatternGuard) Evaluate(ctx context.Context, inv *Invocation) (Verdict, error) {
	if cmd := inv.Command(); cmd != "" {
		return g.evaluateCommand(ctx, inv.AgentID, cmd)
	}
	if path := inv.Path(); path != "" {
		if category, detail, found := patterns.DetectSensitivePath(path); found {
			return Block(g.Name(), category,
				fmt.Sprintf("access to sensitive path %q", detail)), nil
		}
	}
	return Allow(), nil
}

func (g *PatternGuard) evaluateCommand(ctx context.Context, agentID, cmd string) (Verdict, error) {
	// Blocked patterns run first so destructive or exfiltrating commands are
	// rejected regardless of where they point.
	if hit := patterns.Match(cmd, g.blocked); hit != nil {
		return Block(g.Name(), hit.Category,
			fmt.Sprintf("command matches blocked pattern (%s)", hit.Reason)), nil
	}
	if reason, unsafe := patterns.UnsafePipe(cmd); unsafe {
		return Block(g.Name(), "unsafe-pipe", reason), nil
	}
	if category, detail, found := patterns.DetectSensitivePath(cmd); found {
		return Block(g.Name(), category,
			fmt.Sprintf("command touches sensitive path %q", detail)), nil
	}
	for _, raw := range urlInCommand.FindAllString(cmd, -1) {
		if err := g.validator.Validate(ctx, raw); err != nil {
			return Block(g.Name(), "ssrf", err.Error()), nil
		}
		host := hostOf(raw)
		if !g.matcher.AllowedForAgent(host, agentID) {
			return Block(g.Name(), "allowlist",
				fmt.Sprintf("command targets %q, not on the allowlist", host)), nil
		}
	}
	return Allow(), nil
}

// ContentGuard classifies free-text content with the external risk model.
// It never returns an error: classifier failures surface as block verdicts
// inside the risk classifier, so this guard has no fail-open path.
type ContentGuard struct {
	classifier *classify.RiskClassifier
	timeout    time.Duration
}

func NewContentGuard(rc *classify.RiskClassifier, timeout time.Duration) *ContentGuard {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ContentGuard{classifier: rc, timeout: timeout}
}

func (g *ContentGuard) Name() string { return ContentGuardName }

func (g *ContentGuard) Evaluate(ctx context.Context, inv *Invocation) (Verdict, error) {
	text := inv.Text()
	if text == "" {
		return Allow(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := g.classifier.Evaluate(ctx, text)
	switch res.Tier {
	case classify.TierBlock:
		return Block(g.Name(), "content-risk",
			fmt.Sprintf("content classified as risky (score %.2f)", res.Score)), nil
	case classify.TierWarn:
		return Warn(g.Name(), "content-risk",
			fmt.Sprintf("content flagged for review (score %.2f)", res.Score)), nil
	default:
		return Allow(), nil
	}
}
