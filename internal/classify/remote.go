package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// classifyMethod is the full gRPC method path of the model server's
// classify RPC. Request and response are struct-typed messages with
// "text"/"sensitivity" and "label"/"score" fields respectively, so this
// client stays decoupled from the model server's own stub generation.
const classifyMethod = "/clawguard.classifier.v1.ClassifierService/Classify"

// GRPCClassifier reaches a model inference service over gRPC.
type GRPCClassifier struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewGRPCClassifier connects to a gRPC classifier endpoint
// (e.g. "10.0.3.12:50052").
func NewGRPCClassifier(endpoint string, logger *zap.Logger) (*GRPCClassifier, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NewGRPCClassifier: %w", err)
	}

	logger.Info("grpc classifier configured",
		zap.String("endpoint", endpoint),
	)

	return &GRPCClassifier{conn: conn, logger: logger}, nil
}

// Classify implements Classifier.
func (c *GRPCClassifier) Classify(ctx context.Context, text string, sensitivity float64) (string, float64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":        text,
		"sensitivity": sensitivity,
	})
	if err != nil {
		return "", 0, fmt.Errorf("grpc classify: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		return "", 0, fmt.Errorf("grpc classify: %w", err)
	}

	fields := resp.GetFields()
	label := fields["label"].GetStringValue()
	score := fields["score"].GetNumberValue()
	return label, score, nil
}

// Close shuts down the underlying connection.
func (c *GRPCClassifier) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// HTTPClassifier reaches a remote classification API over HTTP JSON.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

type httpClassifyRequest struct {
	Text        string  `json:"text"`
	Sensitivity float64 `json:"sensitivity"`
}

type httpClassifyResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewHTTPClassifier builds an HTTP backend. The per-call deadline comes
// from the caller's context; the client itself carries no timeout so the
// orchestrator's cancellation is the single source of truth.
func NewHTTPClassifier(endpoint string) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Classify implements Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, text string, sensitivity float64) (string, float64, error) {
	body, err := json.Marshal(httpClassifyRequest{Text: text, Sensitivity: sensitivity})
	if err != nil {
		return "", 0, fmt.Errorf("http classify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("http classify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("http classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for connection reuse
		return "", 0, fmt.Errorf("http classify: status %d", resp.StatusCode)
	}

	var out httpClassifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("http classify: decode: %w", err)
	}
	return out.Label, out.Score, nil
}

// LazyClassifier defers backend construction (connection dial, client
// setup) until the first Classify call. Initialization is idempotent:
// sync.Once guarantees concurrent first calls from parallel tool
// invocations cannot double-initialize, and every later call reuses the
// cached handle. A failed initialization is sticky — retrying on every
// call would turn an outage into a dial storm, and the caller already
// treats the error as a block.
type LazyClassifier struct {
	build func() (Classifier, error)

	once    sync.Once
	backend Classifier
	err     error
}

// NewLazyClassifier wraps a constructor.
func NewLazyClassifier(build func() (Classifier, error)) *LazyClassifier {
	return &LazyClassifier{build: build}
}

// Classify implements Classifier.
func (l *LazyClassifier) Classify(ctx context.Context, text string, sensitivity float64) (string, float64, error) {
	l.once.Do(func() {
		l.backend, l.err = l.build()
	})
	if l.err != nil {
		return "", 0, fmt.Errorf("classifier init: %w", l.err)
	}
	return l.backend.Classify(ctx, text, sensitivity)
}
