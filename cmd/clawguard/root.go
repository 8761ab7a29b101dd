package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/IT-HUSET/clawguard/internal/allowlist"
	"github.com/IT-HUSET/clawguard/internal/classify"
	"github.com/IT-HUSET/clawguard/internal/config"
	"github.com/IT-HUSET/clawguard/internal/guard"
	"github.com/IT-HUSET/clawguard/internal/urlcheck"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "clawguard",
	Short:        "Tool-call guard for AI agent gateways",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

// buildPipeline wires the guards from configuration. The classifier backend
// is built lazily so a serve without content-routed tools, or a check of a
// URL, never dials it.
func buildPipeline(cfg *config.Config, logger *zap.Logger) (*guard.Pipeline, *allowlist.Matcher, error) {
	matcher, err := allowlist.Compile(cfg.Allowlist)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("allowlist compiled", zap.Strings("patterns", matcher.Patterns()))

	validator := urlcheck.NewValidator(urlcheck.Config{
		Resolver:   net.DefaultResolver,
		ResolveDNS: cfg.URL.ResolveDNS,
		Timeout:    cfg.URL.Timeout(),
		Logger:     logger,
	})

	blocked := cfg.BlockedPatterns(logger)

	backend := classify.NewLazyClassifier(func() (classify.Classifier, error) {
		if cfg.Classifier.Addr == "" {
			return nil, fmt.Errorf("classifier address not configured")
		}
		switch cfg.Classifier.Mode {
		case "http":
			return classify.NewHTTPClassifier(cfg.Classifier.Addr), nil
		default:
			return classify.NewGRPCClassifier(cfg.Classifier.Addr, logger)
		}
	})
	risk := classify.NewRiskClassifier(backend, cfg.Classifier.Thresholds(), cfg.Classifier.ChunkSize, logger)

	rawSchemas, err := cfg.SchemaDocs()
	if err != nil {
		return nil, nil, err
	}
	schemas, err := guard.CompileSchemas(rawSchemas)
	if err != nil {
		return nil, nil, err
	}

	urlGuard := guard.NewURLGuard(validator, matcher, logger)
	if cfg.URL.InspectContent {
		urlGuard = urlGuard.WithInspection(risk)
	}

	// Deterministic guards run before the probabilistic one. The content
	// guard carries no fail-open knob: classifier trouble is always a block.
	entries := []guard.Entry{
		{
			Guard:    urlGuard,
			Tools:    cfg.Routes[guard.URLGuardName],
			FailOpen: cfg.FailOpen.URLGuard,
		},
		{
			Guard:    guard.NewPatternGuard(blocked, validator, matcher, logger),
			Tools:    cfg.Routes[guard.PatternGuardName],
			FailOpen: cfg.FailOpen.PatternGuard,
		},
		{
			Guard: guard.NewContentGuard(risk, cfg.Classifier.Timeout()),
			Tools: cfg.Routes[guard.ContentGuardName],
		},
	}

	return guard.NewPipeline(entries, schemas, logger), matcher, nil
}
