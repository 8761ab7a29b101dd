package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IT-HUSET/clawguard/internal/config"
	"github.com/IT-HUSET/clawguard/internal/guard"
)

var (
	checkTool   string
	checkAgent  string
	checkParams string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a single tool invocation locally and print the verdict",
	Example: `  clawguard check --tool exec --params '{"command":"rm -rf /"}'
  clawguard check --tool fetch --params '{"url":"http://169.254.169.254/"}'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runCheck(cfg)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "tool name of the invocation (required)")
	checkCmd.Flags().StringVar(&checkAgent, "agent", "cli", "agent ID to evaluate as")
	checkCmd.Flags().StringVar(&checkParams, "params", "{}", "invocation parameters as a JSON object")
	_ = checkCmd.MarkFlagRequired("tool")
}

func runCheck(cfg *config.Config) error {
	logger := mustBuildLogger("error")
	defer logger.Sync() //nolint:errcheck

	var params map[string]any
	if err := json.Unmarshal([]byte(checkParams), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	pipeline, _, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	verdict := pipeline.Evaluate(ctx, &guard.Invocation{
		ToolName: checkTool,
		AgentID:  checkAgent,
		Params:   params,
	})

	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if verdict.Decision == guard.DecisionBlock {
		os.Exit(2)
	}
	return nil
}
