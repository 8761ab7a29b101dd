// Package classify scores arbitrary text for content risk via an external
// classifier (a local model server or a remote API) and maps the score to
// a three-tier verdict. This is the probabilistic complement to the
// deterministic pattern guards: it runs last, and only when the cheap
// checks have already passed.
package classify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Tier is the three-way outcome of classification.
type Tier int

const (
	TierSafe Tier = iota + 1
	TierWarn
	TierBlock
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierWarn:
		return "warn"
	case TierBlock:
		return "block"
	default:
		return "unspecified"
	}
}

// Thresholds are the per-instance score cut-offs. Warn must be strictly
// below Block. Sensitivity is the cut-off the underlying model uses for
// its own binary label and is forwarded to the classifier backend.
type Thresholds struct {
	Warn        float64
	Block       float64
	Sensitivity float64
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 0.5, Block: 0.8, Sensitivity: 0.5}
}

// Validate checks the threshold ordering invariant.
func (t Thresholds) Validate() error {
	if t.Warn >= t.Block {
		return fmt.Errorf("classify: warn threshold %.2f must be below block threshold %.2f", t.Warn, t.Block)
	}
	return nil
}

// Result is the outcome of classifying one text, with the truncated
// offending chunk retained for logging only. Results are never persisted
// beyond the decision event.
type Result struct {
	Tier  Tier
	Score float64
	Chunk string // truncated offending chunk, empty when safe
}

// Classifier is the narrow interface to the external model. Both the gRPC
// and HTTP backends implement it. Implementations must respect the
// context deadline.
type Classifier interface {
	Classify(ctx context.Context, text string, sensitivity float64) (label string, score float64, err error)
}

// DefaultChunkSize bounds each chunk to the external model's input limit.
// A tuning parameter, not a correctness constant.
const DefaultChunkSize = 4096

// chunkPreviewLen bounds the offending-chunk excerpt kept for logging.
const chunkPreviewLen = 200

// labelRisky maps the classifier's label vocabulary to a binary signal.
// A label not present in this table at all is treated as unparseable.
var labelRisky = map[string]bool{
	"SAFE":       false,
	"BENIGN":     false,
	"OK":         false,
	"RISKY":      true,
	"UNSAFE":     true,
	"MALICIOUS":  true,
	"INJECTION":  true,
	"JAILBREAK":  true,
	"SUSPICIOUS": true,
}

// RiskClassifier chunks text, scores each chunk through the backend, and
// derives a tiered result. It holds no mutable state; one instance may
// serve concurrent evaluations.
type RiskClassifier struct {
	backend    Classifier
	thresholds Thresholds
	chunkSize  int
	logger     *zap.Logger
}

// NewRiskClassifier builds a RiskClassifier. A zero or negative chunkSize
// falls back to DefaultChunkSize.
func NewRiskClassifier(backend Classifier, thresholds Thresholds, chunkSize int, logger *zap.Logger) *RiskClassifier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskClassifier{
		backend:    backend,
		thresholds: thresholds,
		chunkSize:  chunkSize,
		logger:     logger,
	}
}

// Evaluate classifies text and returns the tiered result.
//
// Every chunk is scored independently and the FIRST chunk that crosses a
// threshold decides the verdict — scores are never averaged, because one
// injected chunk inside an otherwise benign document is still a
// successful attack. Any backend error, timeout, or unrecognized label
// yields TierBlock: this guard protects a trust boundary and has no
// fail-open mode.
func (rc *RiskClassifier) Evaluate(ctx context.Context, text string) Result {
	worst := Result{Tier: TierSafe}

	for _, chunk := range Chunks(text, rc.chunkSize) {
		label, score, err := rc.backend.Classify(ctx, chunk, rc.thresholds.Sensitivity)
		if err != nil {
			rc.logger.Warn("classifier backend error, blocking",
				zap.Error(err),
			)
			return Result{Tier: TierBlock, Score: 1, Chunk: truncateChunk(chunk)}
		}

		tier, ok := rc.tierFor(label, score)
		if !ok {
			rc.logger.Warn("classifier returned unrecognized label, blocking",
				zap.String("label", label),
			)
			return Result{Tier: TierBlock, Score: score, Chunk: truncateChunk(chunk)}
		}

		switch tier {
		case TierBlock:
			return Result{Tier: TierBlock, Score: score, Chunk: truncateChunk(chunk)}
		case TierWarn:
			if worst.Tier != TierWarn {
				worst = Result{Tier: TierWarn, Score: score, Chunk: truncateChunk(chunk)}
			}
		}
	}

	return worst
}

// tierFor maps a label+score pair to a tier. The score drives the tier;
// the model's own binary label acts as a floor — a risky label whose
// score cleared the model's sensitivity is never reported below warn.
func (rc *RiskClassifier) tierFor(label string, score float64) (Tier, bool) {
	risky, known := labelRisky[strings.ToUpper(strings.TrimSpace(label))]
	if !known {
		return 0, false
	}

	switch {
	case score >= rc.thresholds.Block:
		return TierBlock, true
	case score >= rc.thresholds.Warn:
		return TierWarn, true
	case risky && score >= rc.thresholds.Sensitivity:
		return TierWarn, true
	default:
		return TierSafe, true
	}
}

// Chunks splits text into rune-safe pieces of at most size runes.
func Chunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func truncateChunk(chunk string) string {
	runes := []rune(chunk)
	if len(runes) <= chunkPreviewLen {
		return chunk
	}
	return string(runes[:chunkPreviewLen])
}
