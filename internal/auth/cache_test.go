package auth

import (
	"testing"
	"time"
)

func TestAuthCache_FreshHit(t *testing.T) {
	c := NewAuthCache(time.Minute)
	c.Set("agk_key", &AgentContext{AgentID: "a1"})

	res := c.Get("agk_key")
	if !res.Hit || res.NeedsRefresh {
		t.Fatalf("got %+v, want fresh hit", res)
	}
	if res.Agent.AgentID != "a1" {
		t.Errorf("agent = %q, want a1", res.Agent.AgentID)
	}
}

func TestAuthCache_Miss(t *testing.T) {
	c := NewAuthCache(time.Minute)
	res := c.Get("agk_unknown")
	if res.Hit {
		t.Fatalf("got %+v, want miss", res)
	}
}

func TestAuthCache_StaleHitSignalsRefreshOnce(t *testing.T) {
	c := NewAuthCache(-time.Second) // entries are born expired
	c.Set("agk_key", &AgentContext{AgentID: "a1"})

	first := c.Get("agk_key")
	if !first.Hit || !first.NeedsRefresh {
		t.Fatalf("first read = %+v, want stale hit needing refresh", first)
	}
	if first.Agent.AgentID != "a1" {
		t.Errorf("stale agent = %q, want a1", first.Agent.AgentID)
	}

	// Only one caller wins the refresh flag.
	second := c.Get("agk_key")
	if !second.Hit || second.NeedsRefresh {
		t.Fatalf("second read = %+v, want stale hit without refresh", second)
	}
}

func TestAuthCache_DeleteAllowsRetry(t *testing.T) {
	c := NewAuthCache(-time.Second)
	c.Set("agk_key", &AgentContext{AgentID: "a1"})

	if res := c.Get("agk_key"); !res.NeedsRefresh {
		t.Fatalf("got %+v, want refresh signal", res)
	}
	c.Delete("agk_key")
	if res := c.Get("agk_key"); res.Hit {
		t.Fatalf("got %+v, want miss after delete", res)
	}
}
