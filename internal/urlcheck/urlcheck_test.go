package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeResolver maps hostnames to fixed address lists.
type fakeResolver struct {
	addrs map[string][]netip.Addr
	err   error
	delay time.Duration
}

func (f *fakeResolver) LookupNetIP(ctx context.Context, _ string, host string) ([]netip.Addr, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func newValidator(r Resolver) *Validator {
	return NewValidator(Config{
		Resolver:   r,
		ResolveDNS: r != nil,
		Timeout:    2 * time.Second,
		Logger:     zap.NewNop(),
	})
}

func TestAllowedURL_Schemes(t *testing.T) {
	v := newValidator(nil)

	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/path", nil},
		{"http://example.com", nil},
		{"ftp://example.com/file", ErrSchemeNotAllowed},
		{"file:///etc/passwd", ErrSchemeNotAllowed},
		{"gopher://example.com", ErrSchemeNotAllowed},
		{"javascript:alert(1)", ErrSchemeNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := v.AllowedURL(tt.url)
			if tt.wantErr == nil && err != nil {
				t.Errorf("AllowedURL(%q) = %v, want nil", tt.url, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("AllowedURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestAllowedURL_LocalhostBlocked(t *testing.T) {
	v := newValidator(nil)

	for _, u := range []string{
		"http://localhost/",
		"http://localhost:8080/admin",
		"http://LOCALHOST/",
		"http://foo.localhost/",
		"http://a.b.localhost:9999/",
	} {
		if err := v.AllowedURL(u); !errors.Is(err, ErrBlockedHostname) {
			t.Errorf("AllowedURL(%q) = %v, want ErrBlockedHostname", u, err)
		}
	}
}

func TestAllowedURL_IPLiterals(t *testing.T) {
	v := newValidator(nil)

	blocked := []string{
		"http://127.0.0.1/",
		"http://10.1.2.3:8080/",
		"http://169.254.169.254/metadata",
		"http://192.168.1.1/router",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://[::ffff:10.0.0.1]/",
		"http://0x7f000001/",
		"http://2130706433/",
	}
	for _, u := range blocked {
		if err := v.AllowedURL(u); !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("AllowedURL(%q) = %v, want ErrPrivateAddress", u, err)
		}
	}

	allowed := []string{
		"http://1.1.1.1/",
		"http://[2606:4700:4700::1111]/",
	}
	for _, u := range allowed {
		if err := v.AllowedURL(u); err != nil {
			t.Errorf("AllowedURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestResolvesPublic(t *testing.T) {
	r := &fakeResolver{addrs: map[string][]netip.Addr{
		"public.example":  addrs("93.184.216.34"),
		"dual.example":    addrs("93.184.216.34", "2606:2800:220:1::1"),
		"rebind.example":  addrs("93.184.216.34", "10.0.0.5"),
		"private.example": addrs("192.168.0.10"),
		"mapped.example":  addrs("::ffff:192.168.1.1"),
	}}
	v := newValidator(r)
	ctx := context.Background()

	if err := v.ResolvesPublic(ctx, "public.example"); err != nil {
		t.Errorf("public.example: %v", err)
	}
	if err := v.ResolvesPublic(ctx, "dual.example"); err != nil {
		t.Errorf("dual.example: %v", err)
	}

	// One private address among public ones is a rejection.
	if err := v.ResolvesPublic(ctx, "rebind.example"); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("rebind.example = %v, want ErrPrivateAddress", err)
	}
	if err := v.ResolvesPublic(ctx, "private.example"); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("private.example = %v, want ErrPrivateAddress", err)
	}
	if err := v.ResolvesPublic(ctx, "mapped.example"); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("mapped.example = %v, want ErrPrivateAddress", err)
	}

	// NXDOMAIN is a rejection, not a skip.
	if err := v.ResolvesPublic(ctx, "nx.example"); !errors.Is(err, ErrResolution) {
		t.Errorf("nx.example = %v, want ErrResolution", err)
	}
}

func TestResolvesPublic_TimeoutRejects(t *testing.T) {
	r := &fakeResolver{
		addrs: map[string][]netip.Addr{"slow.example": addrs("1.1.1.1")},
		delay: 500 * time.Millisecond,
	}
	v := NewValidator(Config{
		Resolver:   r,
		ResolveDNS: true,
		Timeout:    10 * time.Millisecond,
		Logger:     zap.NewNop(),
	})

	if err := v.ResolvesPublic(context.Background(), "slow.example"); !errors.Is(err, ErrResolution) {
		t.Errorf("timeout = %v, want ErrResolution", err)
	}
}

func TestValidate_ResolvesHostnames(t *testing.T) {
	r := &fakeResolver{addrs: map[string][]netip.Addr{
		"good.example": addrs("8.8.8.8"),
		"bad.example":  addrs("127.0.0.1"),
	}}
	v := newValidator(r)
	ctx := context.Background()

	if err := v.Validate(ctx, "https://good.example/api"); err != nil {
		t.Errorf("good.example: %v", err)
	}
	if err := v.Validate(ctx, "https://bad.example/api"); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("bad.example = %v, want ErrPrivateAddress", err)
	}
	// IP literal short-circuits DNS entirely.
	if err := v.Validate(ctx, "http://1.1.1.1/"); err != nil {
		t.Errorf("1.1.1.1: %v", err)
	}
}

func TestPrefetch_RedirectHopLimit(t *testing.T) {
	// Server that always redirects to itself.
	var srv *httptest.Server
	hops := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, srv.URL+fmt.Sprintf("/hop%d", hops), http.StatusFound)
	}))
	defer srv.Close()

	v := validatorForServer(t, srv)
	_, err := v.Prefetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("Prefetch = %v, want ErrTooManyRedirects", err)
	}
	if hops != MaxRedirectHops+1 {
		t.Errorf("server saw %d requests, want %d", hops, MaxRedirectHops+1)
	}
}

func TestPrefetch_FollowsValidRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, srv.URL+"/final", http.StatusFound)
			return
		}
		w.Write([]byte("payload")) //nolint:errcheck
	}))
	defer srv.Close()

	v := validatorForServer(t, srv)
	body, err := v.Prefetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q, want %q", body, "payload")
	}
}

func TestPrefetch_RedirectToPrivateAddressRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/metadata", http.StatusFound)
	}))
	defer srv.Close()

	v := validatorForServer(t, srv)
	_, err := v.Prefetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("Prefetch = %v, want ErrPrivateAddress", err)
	}
}

func TestPrefetch_ConnectFailureIsUnreachable(t *testing.T) {
	// Unroutable public IP with an immediate dial timeout.
	v := NewValidator(Config{
		Timeout: 50 * time.Millisecond,
		Logger:  zap.NewNop(),
	})
	_, err := v.Prefetch(context.Background(), "http://203.0.113.1:9/")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Prefetch = %v, want ErrUnreachable", err)
	}
}

// validatorForServer builds a validator for redirect tests. httptest
// listens on 127.0.0.1, which the SSRF policy rightly rejects, so the
// hop check admits the fixture's own address and applies the real
// Validate to everything else (e.g. redirects escaping to other hosts).
func validatorForServer(t *testing.T, srv *httptest.Server) *Validator {
	t.Helper()
	v := NewValidator(Config{
		Timeout: 2 * time.Second,
		Logger:  zap.NewNop(),
	})
	fixtureHost := srv.Listener.Addr().String()
	v.hopCheck = func(ctx context.Context, rawURL string) error {
		if u, err := url.Parse(rawURL); err == nil && u.Host == fixtureHost {
			return nil
		}
		return v.Validate(ctx, rawURL)
	}
	return v
}
