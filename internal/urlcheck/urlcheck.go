// Package urlcheck validates URLs before an agent is allowed to reach
// them: scheme restrictions, localhost blocking, IP-literal
// classification, DNS anti-rebinding resolution, and redirect-chain
// validation for pre-fetch flows.
package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/IT-HUSET/clawguard/internal/netcheck"
	"go.uber.org/zap"
)

// Validation failure categories. The orchestrator folds these into
// user-visible rejection reasons; none of them carry internal state.
var (
	ErrSchemeNotAllowed = errors.New("url scheme not allowed")
	ErrBlockedHostname  = errors.New("hostname is blocked")
	ErrPrivateAddress   = errors.New("address is private or reserved")
	ErrResolution       = errors.New("hostname did not resolve to public addresses")
	ErrTooManyRedirects = errors.New("redirect chain exceeds hop limit")
	ErrUnreachable      = errors.New("resource unreachable")
)

// MaxRedirectHops bounds redirect-chain validation. Exceeding it is a
// rejection, not a silent stop.
const MaxRedirectHops = 5

// maxPrefetchBody caps how much of a pre-fetched resource is read for
// content inspection.
const maxPrefetchBody = 1 << 20

// Resolver is the DNS lookup surface, satisfied by *net.Resolver.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Validator checks URLs against the SSRF policy.
type Validator struct {
	resolver   Resolver
	resolveDNS bool
	timeout    time.Duration
	client     *http.Client
	logger     *zap.Logger

	// hopCheck validates each pre-fetch hop. Defaults to Validate;
	// overridable in tests where the target is a loopback fixture.
	hopCheck func(ctx context.Context, rawURL string) error
}

// Config configures a Validator.
type Config struct {
	// Resolver defaults to net.DefaultResolver via the Resolver
	// argument of NewValidator; nil disables DNS checking only when
	// ResolveDNS is false.
	Resolver Resolver

	// ResolveDNS enables resolving hostnames and checking every
	// returned address. Strongly recommended: without it a hostname
	// pointing at a private address passes validation.
	ResolveDNS bool

	// Timeout bounds DNS resolution and each pre-fetch hop. A timeout
	// is a rejection, never an allow.
	Timeout time.Duration

	// HTTPClient is used for pre-fetch. Redirects are always handled
	// manually regardless of the client's own redirect policy.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// NewValidator builds a Validator with defaults resolved once.
func NewValidator(cfg Config) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	v := &Validator{
		resolver:   cfg.Resolver,
		resolveDNS: cfg.ResolveDNS && cfg.Resolver != nil,
		timeout:    cfg.Timeout,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	v.hopCheck = v.Validate
	return v
}

// NormalizeHost lowercases a hostname, strips IPv6 brackets and the
// trailing FQDN dot, and decodes non-standard IP encodings.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	host = strings.TrimSuffix(host, ".")
	return netcheck.NormalizeIPHost(host)
}

// AllowedURL runs the synchronous (non-network) checks, in order:
// scheme, hostname normalization, localhost blocking, and IP-literal
// classification. It never touches DNS; use Validate for the full check.
func (v *Validator) AllowedURL(rawURL string) error {
	_, err := v.checkURL(rawURL)
	return err
}

func (v *Validator) checkURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable url", ErrBlockedHostname)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrSchemeNotAllowed, u.Scheme)
	}

	host := NormalizeHost(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: empty hostname", ErrBlockedHostname)
	}

	// localhost and *.localhost are rejected outright, independent of
	// any IP classification.
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: %s", ErrBlockedHostname, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if netcheck.IsPrivateOrReserved(addr) {
			return nil, fmt.Errorf("%w: direct IP %s", ErrPrivateAddress, host)
		}
	}

	return u, nil
}

// ResolvesPublic resolves host and requires EVERY returned address to be
// public. A single private address among several public ones is a
// rejection: an attacker-controlled domain may answer with a public
// address during validation and a private one at connect time (DNS
// rebinding), so partial trust is no trust.
//
// Resolution failure and timeout are rejections — unresolvable means
// untrusted, never "skip this check".
func (v *Validator) ResolvesPublic(ctx context.Context, host string) error {
	if v.resolver == nil {
		return fmt.Errorf("%w: no resolver configured", ErrResolution)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrResolution, host)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s returned no addresses", ErrResolution, host)
	}

	for _, addr := range addrs {
		if netcheck.IsPrivateOrReserved(addr) {
			v.logger.Warn("hostname resolves to private address",
				zap.String("host", host),
				zap.String("addr", addr.String()),
			)
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, addr)
		}
	}
	return nil
}

// Validate runs the full check: AllowedURL plus, when DNS resolution is
// enabled and the host is not an IP literal, ResolvesPublic.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := v.checkURL(rawURL)
	if err != nil {
		return err
	}

	host := NormalizeHost(u.Hostname())
	if _, err := netip.ParseAddr(host); err == nil {
		// IP literal already classified by checkURL.
		return nil
	}

	if v.resolveDNS {
		return v.ResolvesPublic(ctx, host)
	}
	return nil
}

// Prefetch fetches a resource for content inspection before the real tool
// runs, following redirects manually so EVERY hop is re-validated against
// the full policy. More than MaxRedirectHops hops is a rejection.
//
// Fetch-level failures (connect refused, HTTP timeout) return
// ErrUnreachable, which the caller may treat differently from a policy
// rejection: a resource that cannot be fetched has nothing to inspect,
// which is not the same as being unsafe.
func (v *Validator) Prefetch(ctx context.Context, rawURL string) ([]byte, error) {
	current := rawURL

	for hop := 0; hop <= MaxRedirectHops; hop++ {
		if err := v.hopCheck(ctx, current); err != nil {
			return nil, err
		}

		hopCtx, cancel := context.WithTimeout(ctx, v.timeout)
		req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, current, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		resp, err := v.transportOnly().Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			cancel()
			if loc == "" {
				return nil, fmt.Errorf("%w: redirect without location", ErrUnreachable)
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("%w: bad redirect target", ErrBlockedHostname)
			}
			current = next.String()
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPrefetchBody))
		resp.Body.Close()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("%w: more than %d hops", ErrTooManyRedirects, MaxRedirectHops)
}

// transportOnly returns a client that never follows redirects on its own:
// hop-by-hop validation is the whole point.
func (v *Validator) transportOnly() *http.Client {
	return &http.Client{
		Transport: v.client.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
