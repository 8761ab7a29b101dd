// Package chread provides read access to the ClickHouse guard_decisions
// table for the events and analytics endpoints. Writes go through
// internal/storage; this package only queries.
package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the guard_decisions table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// DecisionRow represents a single row from the guard_decisions table.
type DecisionRow struct {
	RequestID     string
	AgentID       string
	Timestamp     time.Time
	ToolName      string
	ParamsPreview string
	Decision      string
	IsShadow      uint8
	Guard         string
	Category      string
	Reason        string
	Advisory      string
	LatencyMs     float32
	Source        string
}

// ListDecisionsParams holds filters and pagination for decision listing.
type ListDecisionsParams struct {
	AgentID   string
	Decision  *string
	ToolName  *string
	Guard     *string
	Category  *string
	IsShadow  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

const decisionColumns = "request_id, agent_id, timestamp, tool_name, params_preview, " +
	"decision, is_shadow, guard, category, reason, advisory, latency_ms, source"

func scanDecision(scan func(dest ...any) error, d *DecisionRow) error {
	return scan(
		&d.RequestID, &d.AgentID, &d.Timestamp, &d.ToolName, &d.ParamsPreview,
		&d.Decision, &d.IsShadow, &d.Guard, &d.Category, &d.Reason, &d.Advisory,
		&d.LatencyMs, &d.Source,
	)
}

// ListDecisions returns paginated, filtered decisions and the total count.
func (r *Reader) ListDecisions(ctx context.Context, params ListDecisionsParams) ([]DecisionRow, int, error) {
	conditions := []string{"agent_id = @agent_id"}
	args := []any{
		clickhouse.Named("agent_id", params.AgentID),
	}

	if params.Decision != nil {
		conditions = append(conditions, "decision = @decision")
		args = append(args, clickhouse.Named("decision", *params.Decision))
	}
	if params.ToolName != nil {
		conditions = append(conditions, "tool_name = @tool_name")
		args = append(args, clickhouse.Named("tool_name", *params.ToolName))
	}
	if params.Guard != nil {
		conditions = append(conditions, "guard = @guard")
		args = append(args, clickhouse.Named("guard", *params.Guard))
	}
	if params.Category != nil {
		conditions = append(conditions, "category = @category")
		args = append(args, clickhouse.Named("category", *params.Category))
	}
	if params.IsShadow != nil {
		var v uint8
		if *params.IsShadow {
			v = 1
		}
		conditions = append(conditions, "is_shadow = @is_shadow")
		args = append(args, clickhouse.Named("is_shadow", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM guard_decisions WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM guard_decisions WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		decisionColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []DecisionRow
	for rows.Next() {
		var d DecisionRow
		if err := scanDecision(rows.Scan, &d); err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		decisions = append(decisions, d)
	}

	return decisions, int(total), rows.Err()
}

// GetDecision returns a single decision by agent ID and request ID, or nil
// if not found.
func (r *Reader) GetDecision(ctx context.Context, agentID, requestID string) (*DecisionRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND request_id = @request_id", decisionColumns),
		clickhouse.Named("agent_id", agentID),
		clickhouse.Named("request_id", requestID),
	)

	var d DecisionRow
	if err := scanDecision(row.Scan, &d); err != nil {
		// ClickHouse does not return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetDecision: %w", err)
	}
	if d.RequestID == "" {
		return nil, nil
	}
	return &d, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalChecks int `json:"total_checks"`
	Blocks      int `json:"blocks"`
	Warns       int `json:"warns"`
	Allows      int `json:"allows"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// CategoryCount holds a category and its count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// GuardCount holds a guard name and its block count.
type GuardCount struct {
	Guard string `json:"guard"`
	Count int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	BlocksOverTime     []TimeSeriesBucket `json:"blocks_over_time"`
	TopCategories      []CategoryCount    `json:"top_categories"`
	TopGuards          []GuardCount       `json:"top_guards"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics for an agent over the given
// number of days.
func (r *Reader) GetAnalytics(ctx context.Context, agentID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("agent_id", agentID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	var totalChecks, blocks, warns, allows uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total_checks, "+
			"countIf(decision = 'block') as blocks, "+
			"countIf(decision = 'warn') as warns, "+
			"countIf(decision = 'allow') as allows "+
			"FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&totalChecks, &blocks, &warns, &allows)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalChecks: int(totalChecks),
		Blocks:      int(blocks),
		Warns:       int(warns),
		Allows:      int(allows),
	}

	botRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND decision = 'block' "+
			"AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics blocks over time: %w", err)
	}
	defer func() { _ = botRows.Close() }()
	for botRows.Next() {
		var hour time.Time
		var count uint64
		if err := botRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics blocks over time scan: %w", err)
		}
		result.BlocksOverTime = append(result.BlocksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	catRows, err := r.conn.Query(ctx,
		"SELECT category, count() as count "+
			"FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND decision != 'allow' "+
			"AND timestamp >= @range_start AND category != '' "+
			"GROUP BY category ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()
	for catRows.Next() {
		var category string
		var count uint64
		if err := catRows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics categories scan: %w", err)
		}
		result.TopCategories = append(result.TopCategories, CategoryCount{
			Category: category,
			Count:    int(count),
		})
	}

	guardRows, err := r.conn.Query(ctx,
		"SELECT guard, count() as count "+
			"FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND decision = 'block' "+
			"AND timestamp >= @range_start AND guard != '' "+
			"GROUP BY guard ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics guards: %w", err)
	}
	defer func() { _ = guardRows.Close() }()
	for guardRows.Next() {
		var guard string
		var count uint64
		if err := guardRows.Scan(&guard, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics guards scan: %w", err)
		}
		result.TopGuards = append(result.TopGuards, GuardCount{
			Guard: guard,
			Count: int(count),
		})
	}

	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms), quantile(0.95)(latency_ms), quantile(0.99)(latency_ms) "+
			"FROM guard_decisions "+
			"WHERE agent_id = @agent_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&result.LatencyPercentiles.P50, &result.LatencyPercentiles.P95, &result.LatencyPercentiles.P99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}

	return result, nil
}
