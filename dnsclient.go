package ndns

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSClient represents a plain DNS resolver over UDP.
type DNSClient struct {
	id       string
	endpoint string
	pipeline *Pipeline
	metrics  *ListenerMetrics
}

// DNSClientOptions contains options used by the plain DNS resolver.
type DNSClientOptions struct {
	// Maximum time to wait for a response.
	Timeout time.Duration
}

var _ Upstream = &DNSClient{}

// NewDNSClient returns a new instance of DNSClient which is a plain DNS resolver
// that supports pipelining over a single connection.
func NewDNSClient(id, endpoint string, opt DNSClientOptions) (*DNSClient, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultUpstreamTimeout
	}
	client := &dns.Client{
		Net:     "udp",
		UDPSize: upstreamUDPSize,
		Timeout: opt.Timeout,
	}
	pipeline, err := NewPipeline(endpoint, client, opt.Timeout)
	if err != nil {
		return nil, err
	}
	Log.WithFields(logrus.Fields{"id": id, "endpoint": endpoint}).Info("connected to udp upstream")
	return &DNSClient{
		id:       id,
		endpoint: endpoint,
		pipeline: pipeline,
		metrics:  NewListenerMetrics("client", id),
	}, nil
}

// Resolve a DNS query.
func (d *DNSClient) Resolve(name string, class, qtype uint16) (*dns.Msg, error) {
	q := newUpstreamQuery(name, class, qtype)
	logger(d.id, q, ClientInfo{}).WithFields(logrus.Fields{
		"resolver": d.endpoint,
		"protocol": "udp",
	}).Debug("querying upstream resolver")

	d.metrics.query.Inc()
	a, err := d.pipeline.Resolve(q)
	if err != nil {
		d.metrics.err.WithLabelValues("resolve").Inc()
		return nil, err
	}
	d.metrics.response.WithLabelValues(rCode(a)).Inc()
	return a, nil
}

// Run drives the connection until it fails or the context is cancelled.
func (d *DNSClient) Run(ctx context.Context) error {
	return d.pipeline.Run(ctx)
}

func (d *DNSClient) String() string {
	return d.id
}
