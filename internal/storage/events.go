package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventWriter is the interface for persisting guard decisions.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents one evaluated tool invocation to be persisted.
type DecisionEvent struct {
	RequestID     string
	AgentID       string
	Timestamp     time.Time
	ToolName      string
	ParamsPreview string // first 500 chars of the serialized params
	ParamsHash    string // SHA256 of the full serialized params
	ParamsSize    uint32
	Decision      string // "allow", "warn", "block"
	IsShadow      bool
	Guard         string
	Category      string
	Reason        string
	Advisory      string
	LatencyMs     float32
	Source        string // "hook" or "cli"
}

// ParamsPreviewLength is the max chars stored in params_preview.
const ParamsPreviewLength = 500

// TruncateParams returns the first N characters (runes) of serialized
// params for preview storage. It never splits a multi-byte UTF-8 character.
func TruncateParams(params string, maxLen int) string {
	runes := []rune(params)
	if len(runes) <= maxLen {
		return params
	}
	return string(runes[:maxLen])
}

// HashParams returns the hex SHA256 of the serialized params.
func HashParams(params string) string {
	sum := sha256.Sum256([]byte(params))
	return hex.EncodeToString(sum[:])
}
