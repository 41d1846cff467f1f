package ndns

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	DOQNoError = 0x00

	// Keeps the single upstream connection from idling out.
	quicKeepAlivePeriod = 15 * time.Second
)

// DoQClient is a DNS-over-QUIC resolver. All queries share one QUIC connection,
// each query is sent on its own stream.
type DoQClient struct {
	id       string
	endpoint string
	opt      DoQClientOptions
	conn     *quic.Conn
	log      *logrus.Entry
	metrics  *ListenerMetrics
}

// DoQClientOptions contains options used by the DNS-over-QUIC resolver.
type DoQClientOptions struct {
	// Name used to verify the server certificate.
	Host string

	// Maximum time to wait for a response.
	Timeout time.Duration

	TLSConfig *tls.Config
}

var _ Upstream = &DoQClient{}

// NewDoQClient connects to a DNS-over-QUIC resolver.
func NewDoQClient(ctx context.Context, id, endpoint string, opt DoQClientOptions) (*DoQClient, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultUpstreamTimeout
	}
	tlsConfig := clientTLSConfig(opt.TLSConfig, opt.Host, "doq")
	log := Log.WithFields(logrus.Fields{"id": id, "protocol": "doq", "endpoint": endpoint})

	dialCtx, cancel := context.WithTimeout(ctx, opt.Timeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, endpoint, tlsConfig, &quic.Config{
		KeepAlivePeriod: quicKeepAlivePeriod,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to doq upstream %s", endpoint)
	}
	log.Info("connected to quic upstream")
	return &DoQClient{
		id:       id,
		endpoint: endpoint,
		opt:      opt,
		conn:     conn,
		log:      log,
		metrics:  NewListenerMetrics("client", id),
	}, nil
}

// Resolve a DNS query.
func (d *DoQClient) Resolve(name string, class, qtype uint16) (*dns.Msg, error) {
	q := newUpstreamQuery(name, class, qtype)
	logger(d.id, q, ClientInfo{}).WithFields(logrus.Fields{
		"resolver": d.endpoint,
		"protocol": "doq",
	}).Debug("querying upstream resolver")

	d.metrics.query.Inc()

	// When sending queries over DoQ, the DNS Message ID MUST be set to zero.
	id := q.Id
	q.Id = 0

	b, err := packWithPrefix(q)
	if err != nil {
		d.metrics.err.WithLabelValues("pack").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opt.Timeout)
	defer cancel()

	// Get a new stream in the connection. Only one stream per query/response
	stream, err := d.conn.OpenStreamSync(ctx)
	if err != nil {
		d.metrics.err.WithLabelValues("getstream").Inc()
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = stream.SetDeadline(deadline)

	// Write the query and close the sending side of the stream
	if _, err = stream.Write(b); err != nil {
		stream.CancelRead(0)
		d.metrics.err.WithLabelValues("write").Inc()
		return nil, err
	}
	if err = stream.Close(); err != nil {
		stream.CancelRead(0)
		d.metrics.err.WithLabelValues("close").Inc()
		return nil, err
	}

	a, err := readWithPrefix(stream)
	if err != nil {
		if _, ok := err.(*dns.Error); ok {
			d.metrics.err.WithLabelValues("unpack").Inc()
		} else {
			d.metrics.err.WithLabelValues("read").Inc()
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, QueryTimeoutError{q}
		}
		return nil, err
	}
	a.Id = id
	q.Id = id

	// Receiving a edns-tcp-keepalive EDNS(0) option is a fatal error according to the RFC
	if hasKeepalive(a) {
		d.log.Error("received edns-tcp-keepalive from doq server, aborting")
		d.metrics.err.WithLabelValues("keepalive").Inc()
		return nil, errors.New("received edns-tcp-keepalive over doq server")
	}
	if err := checkAnswer(q, a); err != nil {
		d.metrics.err.WithLabelValues("mismatch").Inc()
		return nil, err
	}
	d.metrics.response.WithLabelValues(rCode(a)).Inc()
	return a, nil
}

// Run blocks until the QUIC connection is closed or the context is cancelled.
func (d *DoQClient) Run(ctx context.Context) error {
	return watchQUICConn(ctx, d.conn, d.log)
}

func (d *DoQClient) String() string {
	return d.id
}

// Waits for a QUIC connection to go away. The connection is closed when the
// context is cancelled.
func watchQUICConn(ctx context.Context, conn *quic.Conn, log *logrus.Entry) error {
	select {
	case <-ctx.Done():
		_ = conn.CloseWithError(DOQNoError, "")
		return ctx.Err()
	case <-conn.Context().Done():
		cause := context.Cause(conn.Context())
		log.WithError(cause).Error("connection terminated")
		if cause == nil {
			return ErrUpstreamClosed
		}
		return errors.Wrap(ErrUpstreamClosed, cause.Error())
	}
}

// Encodes a message and adds the 2-byte length prefix used by DoQ.
func packWithPrefix(m *dns.Msg) ([]byte, error) {
	p, err := m.Pack()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 2+len(p))
	binary.BigEndian.PutUint16(b, uint16(len(p)))
	copy(b[2:], p)
	return b, nil
}

// Reads one length-prefixed message.
func readWithPrefix(r io.Reader) (*dns.Msg, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, err
	}
	return m, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
