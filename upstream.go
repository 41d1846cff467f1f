package ndns

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/netip"
	"net/url"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// UpstreamKind selects the protocol used to talk to the upstream resolver.
type UpstreamKind string

const (
	UpstreamUDP  UpstreamKind = "udp"
	UpstreamH3   UpstreamKind = "h3"
	UpstreamQUIC UpstreamKind = "quic"
)

// ParseUpstreamKind returns the kind for a protocol name.
func ParseUpstreamKind(s string) (UpstreamKind, error) {
	switch k := UpstreamKind(s); k {
	case UpstreamUDP, UpstreamH3, UpstreamQUIC:
		return k, nil
	}
	return "", fmt.Errorf("invalid upstream kind: %s", s)
}

// Defaults for queries sent upstream.
const (
	defaultUpstreamTimeout = 5 * time.Second
	upstreamUDPSize        = 4096
)

// Upstream is a connection to the upstream resolver. Resolve may be called
// concurrently. Run drives the connection and returns once it's gone, after which
// the upstream is unusable. There is no reconnect.
type Upstream interface {
	Forwarder
	Run(ctx context.Context) error
}

// UpstreamOptions configures an upstream. Addr is always required, URI is only
// used by the h3 and quic kinds.
type UpstreamOptions struct {
	Kind UpstreamKind

	// Address (ip:port) of the upstream resolver.
	Addr string

	// h3://host/path for HTTP/3, quic://host for QUIC. The host is used for TLS
	// server name verification.
	URI string

	// Maximum time to wait for one response. Defaults to 5s.
	Timeout time.Duration

	// Optional, used to verify the upstream certificate. The server name is set
	// from the URI.
	TLSConfig *tls.Config
}

// NewUpstream validates the options and opens the connection to the upstream.
// Errors returned here are configuration or connection errors and are not
// recoverable.
func NewUpstream(ctx context.Context, opt UpstreamOptions) (Upstream, error) {
	if _, err := netip.ParseAddrPort(opt.Addr); err != nil {
		return nil, errors.Wrapf(err, "invalid upstream address '%s'", opt.Addr)
	}
	if opt.Timeout <= 0 {
		opt.Timeout = defaultUpstreamTimeout
	}
	switch opt.Kind {
	case UpstreamUDP, "":
		return NewDNSClient("udp", opt.Addr, DNSClientOptions{Timeout: opt.Timeout})
	case UpstreamH3:
		host, path, err := parseUpstreamURI(opt.URI, UpstreamH3)
		if err != nil {
			return nil, err
		}
		return NewDoHClient(ctx, "h3", opt.Addr, DoHClientOptions{
			Host:      host,
			Path:      path,
			Timeout:   opt.Timeout,
			TLSConfig: opt.TLSConfig,
		})
	case UpstreamQUIC:
		host, _, err := parseUpstreamURI(opt.URI, UpstreamQUIC)
		if err != nil {
			return nil, err
		}
		return NewDoQClient(ctx, "quic", opt.Addr, DoQClientOptions{
			Host:      host,
			Timeout:   opt.Timeout,
			TLSConfig: opt.TLSConfig,
		})
	}
	return nil, fmt.Errorf("invalid upstream kind: %s", opt.Kind)
}

// Returns host and path from an upstream URI after checking it uses the scheme of
// the kind. HTTP/3 also requires a path.
func parseUpstreamURI(uri string, kind UpstreamKind) (host, path string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("upstream URI must be set for %s upstream", kind)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid upstream URI '%s'", uri)
	}
	if u.Scheme != string(kind) {
		return "", "", fmt.Errorf("upstream URI must use %s scheme", kind)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("upstream URI '%s' has no host", uri)
	}
	if kind == UpstreamH3 && u.Path == "" {
		return "", "", fmt.Errorf("upstream URI '%s' has no path", uri)
	}
	return u.Hostname(), u.Path, nil
}

// Builds the query sent upstream for a question.
func newUpstreamQuery(name string, class, qtype uint16) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(name, qtype)
	q.Question[0].Qclass = class
	q.RecursionDesired = true
	q.SetEdns0(upstreamUDPSize, false)
	return q
}

// Returns an error if the answer isn't for the question in the query.
func checkAnswer(q, a *dns.Msg) error {
	if len(a.Question) == 0 || len(q.Question) == 0 {
		return nil
	}
	qq, aq := q.Question[0], a.Question[0]
	if !equalNames(aq.Name, qq.Name) || aq.Qclass != qq.Qclass || aq.Qtype != qq.Qtype {
		return UnexpectedAnswerError{Query: qq, Answer: aq}
	}
	return nil
}

func equalNames(a, b string) bool {
	return canonicalName(a) == canonicalName(b)
}
