// Package httpclient provides the HTTP client used for every outbound call to
// a generative service. It refuses schemes other than http(s), URLs carrying
// userinfo, and (unless allowed) hosts that resolve to private or special-use
// addresses, on the first request and on every redirect.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/ontogen/errors"
)

// ErrBlocked marks requests refused before any connection is made
var ErrBlocked = errors.New("request blocked")

const defaultMaxRedirects = 10

// SaferClient wraps http.Client with outbound address checks
type SaferClient struct {
	*http.Client
	schemes      []string
	allowPrivate bool
	maxRedirects int
}

// Option customizes a SaferClient
type Option func(*SaferClient)

// AllowPrivateHosts permits loopback and private addresses, for services
// that normally run on the same host or network (Ollama, a LAN gateway)
func AllowPrivateHosts() Option {
	return func(c *SaferClient) { c.allowPrivate = true }
}

// WithMaxRedirects caps the redirect chain
func WithMaxRedirects(n int) Option {
	return func(c *SaferClient) { c.maxRedirects = n }
}

// New creates a client with the given overall request timeout
func New(timeout time.Duration, opts ...Option) *SaferClient {
	c := &SaferClient{
		Client:       &http.Client{Timeout: timeout},
		schemes:      []string{"http", "https"},
		maxRedirects: defaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Mark(errors.Newf("stopped after %d redirects", c.maxRedirects), ErrBlocked)
		}
		return errors.Wrap(c.check(req.URL), "redirect blocked")
	}

	if !c.allowPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			// Resolved addresses are checked at dial time so DNS rebinding cannot
			// slip past the hostname check.
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if isPrivate(ip) {
						return nil, errors.Mark(errors.Newf("private address blocked: %s", ip), ErrBlocked)
					}
				}
				if len(ips) == 0 {
					return nil, errors.Newf("no address for host %q", host)
				}
				return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
			},
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return c
}

// Wrap adopts an existing client with private hosts allowed. Tests use it to
// reach httptest servers.
func Wrap(client *http.Client) *SaferClient {
	return &SaferClient{
		Client:       client,
		schemes:      []string{"http", "https"},
		allowPrivate: true,
		maxRedirects: defaultMaxRedirects,
	}
}

// Do checks the request URL and sends the request
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}

// Validate parses raw and applies the same checks Do applies
func (c *SaferClient) Validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *SaferClient) check(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(c.schemes, scheme) {
		return errors.Mark(errors.Newf("scheme %q not allowed", scheme), ErrBlocked)
	}
	if u.User != nil {
		return errors.Mark(errors.New("URL carries userinfo"), ErrBlocked)
	}
	host := u.Hostname()
	if host == "" {
		return errors.Mark(errors.New("URL missing hostname"), ErrBlocked)
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.Mark(errors.Newf("localhost blocked: %s", host), ErrBlocked)
	}
	if ip, err := netip.ParseAddr(host); err == nil && isPrivate(ip) {
		return errors.Mark(errors.Newf("private address blocked: %s", host), ErrBlocked)
	}
	return nil
}

var specialPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// isPrivate reports loopback, RFC 1918 / ULA, link-local, multicast,
// unspecified and reserved addresses
func isPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range specialPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
