package ndns

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
)

// DNS messages are at most 64k.
const maxDoHResponseSize = dns.MaxMsgSize

// DoHClientOptions contains options used by the DNS-over-HTTP/3 resolver.
type DoHClientOptions struct {
	// Host used in the URL and to verify the server certificate.
	Host string

	// Path of the DoH endpoint, typically /dns-query.
	Path string

	// Maximum time to wait for a response.
	Timeout time.Duration

	TLSConfig *tls.Config
}

// DoHClient is a DNS-over-HTTPS resolver running over HTTP/3. All queries are sent
// as POST requests over one QUIC connection.
type DoHClient struct {
	id       string
	endpoint string
	url      string
	client   *http.Client
	tr       *http3.Transport
	conn     *quic.Conn
	log      *logrus.Entry
	metrics  *ListenerMetrics
}

var _ Upstream = &DoHClient{}

// NewDoHClient connects to the DoH server at endpoint (ip:port).
func NewDoHClient(ctx context.Context, id, endpoint string, opt DoHClientOptions) (*DoHClient, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultUpstreamTimeout
	}
	u := url.URL{Scheme: "https", Host: opt.Host, Path: opt.Path}
	tlsConfig := clientTLSConfig(opt.TLSConfig, opt.Host, http3.NextProtoH3)
	log := Log.WithFields(logrus.Fields{"id": id, "protocol": "h3", "endpoint": endpoint})

	dialCtx, cancel := context.WithTimeout(ctx, opt.Timeout)
	defer cancel()
	conn, err := quic.DialAddrEarly(dialCtx, endpoint, tlsConfig, &quic.Config{
		KeepAlivePeriod: quicKeepAlivePeriod,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to h3 upstream %s", endpoint)
	}

	// The transport would normally dial whatever the URL points to and reconnect
	// when needed. Always hand it the one connection instead.
	tr := &http3.Transport{
		TLSClientConfig: tlsConfig,
		Dial: func(context.Context, string, *tls.Config, *quic.Config) (*quic.Conn, error) {
			if conn.Context().Err() != nil {
				return nil, ErrUpstreamClosed
			}
			return conn, nil
		},
	}
	log.Info("connected to h3 upstream")
	return &DoHClient{
		id:       id,
		endpoint: endpoint,
		url:      u.String(),
		client:   &http.Client{Transport: tr, Timeout: opt.Timeout},
		tr:       tr,
		conn:     conn,
		log:      log,
		metrics:  NewListenerMetrics("client", id),
	}, nil
}

// Resolve a DNS query.
func (d *DoHClient) Resolve(name string, class, qtype uint16) (*dns.Msg, error) {
	q := newUpstreamQuery(name, class, qtype)
	logger(d.id, q, ClientInfo{}).WithFields(logrus.Fields{
		"resolver": d.url,
		"protocol": "h3",
		"method":   "POST",
	}).Debug("querying upstream resolver")
	d.metrics.query.Inc()

	// Use ID 0 on the wire, it makes responses cacheable by HTTP caches.
	id := q.Id
	q.Id = 0
	b, err := q.Pack()
	q.Id = id
	if err != nil {
		d.metrics.err.WithLabelValues("pack").Inc()
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(b))
	if err != nil {
		d.metrics.err.WithLabelValues("http").Inc()
		return nil, err
	}
	req.Header.Add("accept", "application/dns-message")
	req.Header.Add("content-type", "application/dns-message")
	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.err.WithLabelValues("post").Inc()
		if isTimeout(err) {
			return nil, QueryTimeoutError{q}
		}
		return nil, err
	}
	defer resp.Body.Close()

	a, err := d.responseFromHTTP(resp)
	if err != nil {
		return nil, err
	}
	a.Id = id
	if err := checkAnswer(q, a); err != nil {
		d.metrics.err.WithLabelValues("mismatch").Inc()
		return nil, err
	}
	d.metrics.response.WithLabelValues(rCode(a)).Inc()
	return a, nil
}

// Run blocks until the QUIC connection is closed or the context is cancelled.
func (d *DoHClient) Run(ctx context.Context) error {
	defer d.tr.Close()
	return watchQUICConn(ctx, d.conn, d.log)
}

func (d *DoHClient) String() string {
	return d.id
}

// Check the HTTP response status code and parse out the response DNS message.
func (d *DoHClient) responseFromHTTP(resp *http.Response) (*dns.Msg, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.err.WithLabelValues(fmt.Sprintf("http%d", resp.StatusCode)).Inc()
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	rb, err := io.ReadAll(io.LimitReader(resp.Body, maxDoHResponseSize))
	if err != nil {
		d.metrics.err.WithLabelValues("read").Inc()
		return nil, err
	}
	a := new(dns.Msg)
	if err := a.Unpack(rb); err != nil {
		d.metrics.err.WithLabelValues("unpack").Inc()
		return nil, err
	}
	return a, nil
}
