package ndns

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// DoQListener is a DNS listener/server for QUIC.
type DoQListener struct {
	id   string
	addr string
	h    *Handler
	opt  DoQListenerOptions
	log  *logrus.Entry

	mu      sync.Mutex
	ln      *quic.Listener
	stopped bool

	metrics *ListenerMetrics
}

var _ Listener = &DoQListener{}

// DoQListenerOptions contains options used by the QUIC server.
type DoQListenerOptions struct {
	ListenOptions

	TLSConfig *tls.Config
}

// NewDoQListener returns an instance of a QUIC listener.
func NewDoQListener(id, addr string, opt DoQListenerOptions, h *Handler) *DoQListener {
	if opt.TLSConfig == nil {
		opt.TLSConfig = new(tls.Config)
	} else {
		opt.TLSConfig = opt.TLSConfig.Clone()
	}
	opt.TLSConfig.NextProtos = []string{"doq"}
	return &DoQListener{
		id:      id,
		addr:    addr,
		h:       h,
		opt:     opt,
		log:     Log.WithFields(logrus.Fields{"id": id, "protocol": "doq", "addr": addr}),
		metrics: NewListenerMetrics("listener", id),
	}
}

// Start the QUIC server.
func (s *DoQListener) Start() error {
	ln, err := quic.ListenAddr(s.addr, s.opt.TLSConfig, &quic.Config{})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ln.Close()
	}
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("starting listener")

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return err
		}
		s.log.Trace("started connection")

		go func() {
			s.handleConnection(conn)
			_ = conn.CloseWithError(DOQNoError, "")
			s.log.Trace("closing connection")
		}()
	}
}

// Stop the server.
func (s *DoQListener) Stop() error {
	s.log.Info("stopping listener")
	s.mu.Lock()
	s.stopped = true
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *DoQListener) handleConnection(conn *quic.Conn) {
	ci := ClientInfo{Listener: s.id}
	if addr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		ci.SourceIP = addr.IP
	}
	log := s.log.WithField("client", conn.RemoteAddr())
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		log.WithField("stream", stream.StreamID()).Trace("opening stream")
		go func() {
			s.handleStream(stream, log, ci)
			log.WithField("stream", stream.StreamID()).Trace("closing stream")
		}()
	}
}

func (s *DoQListener) handleStream(stream *quic.Stream, log *logrus.Entry, ci ClientInfo) {
	// DNS over QUIC uses one stream per query/response.
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(s.opt.timeout()))
	q, err := readWithPrefix(io.LimitReader(stream, 2+dns.MaxMsgSize))
	if err != nil {
		s.metrics.err.WithLabelValues("read").Inc()
		log.WithError(err).Warn("failed to read query")
		return
	}
	log = log.WithField("qname", qName(q))
	log.Debug("received query")
	s.metrics.query.Inc()

	// Receiving a edns-tcp-keepalive EDNS(0) option is a fatal error according to the RFC
	if hasKeepalive(q) {
		log.Error("received edns-tcp-keepalive, aborting")
		s.metrics.err.WithLabelValues("keepalive").Inc()
		stream.CancelRead(0)
		return
	}

	a := s.h.Handle(q, ci)
	a.Id = 0
	s.metrics.response.WithLabelValues(rCode(a)).Inc()

	out, err := packWithPrefix(a)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		s.metrics.err.WithLabelValues("encode").Inc()
		return
	}

	_ = stream.SetWriteDeadline(time.Now().Add(s.opt.timeout()))
	if _, err = stream.Write(out); err != nil {
		s.metrics.err.WithLabelValues("send").Inc()
		log.WithError(err).Warn("failed to send response")
	}
}

func (s *DoQListener) String() string {
	return s.id
}
