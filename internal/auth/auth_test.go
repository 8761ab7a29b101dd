package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"bearer key", "Bearer agk_abc123", "agk_abc123", nil},
		{"lowercase scheme", "bearer agk_abc123", "agk_abc123", nil},
		{"bare key", "agk_abc123", "agk_abc123", nil},
		{"missing header", "", "", ErrMissingAPIKey},
		{"wrong prefix", "Bearer sk_abc123", "", ErrInvalidAPIKey},
		{"empty bearer", "Bearer ", "", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/hook", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearer(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator()

	r := httptest.NewRequest("POST", "/v1/hook", nil)
	r.Header.Set("Authorization", "Bearer agk_12345678")
	r.Header.Set("X-Agent-ID", "agent-7")

	agent, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if agent.AgentID != "agent-7" {
		t.Errorf("agent ID = %q, want agent-7", agent.AgentID)
	}
	if agent.Mode != "enforce" {
		t.Errorf("mode = %q, want enforce", agent.Mode)
	}
}

func TestStaticAuthenticator_DefaultsAgentIDToPrefix(t *testing.T) {
	a := NewStaticAuthenticator()

	r := httptest.NewRequest("POST", "/v1/hook", nil)
	r.Header.Set("Authorization", "Bearer agk_12345678")

	agent, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if agent.AgentID != "agk_1234" {
		t.Errorf("agent ID = %q, want key prefix", agent.AgentID)
	}
}
