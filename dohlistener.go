package ndns

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
)

// Path DoH queries are served on.
const dohPath = "/dns-query"

// DoHListener is a DNS listener/server for DNS-over-HTTPS over HTTP/3.
type DoHListener struct {
	id   string
	addr string
	h    *Handler
	opt  DoHListenerOptions
	log  *logrus.Entry

	server  *http3.Server
	metrics *ListenerMetrics
}

var _ Listener = &DoHListener{}

// DoHListenerOptions contains options used by the DNS-over-HTTPS server.
type DoHListenerOptions struct {
	ListenOptions

	// Optional, when set requests for any other host are refused.
	Hostname string

	TLSConfig *tls.Config
}

// NewDoHListener returns an instance of a DNS-over-HTTP/3 listener.
func NewDoHListener(id, addr string, opt DoHListenerOptions, h *Handler) *DoHListener {
	l := &DoHListener{
		id:      id,
		addr:    addr,
		h:       h,
		opt:     opt,
		log:     Log.WithFields(logrus.Fields{"id": id, "protocol": "h3", "addr": addr}),
		metrics: NewListenerMetrics("listener", id),
	}
	mux := http.NewServeMux()
	mux.Handle(dohPath, http.HandlerFunc(l.dohHandler))
	l.server = &http3.Server{
		Addr:       addr,
		TLSConfig:  opt.TLSConfig,
		Handler:    mux,
		QUICConfig: &quic.Config{MaxIdleTimeout: opt.timeout()},
	}
	return l
}

// Start the DoH server.
func (s *DoHListener) Start() error {
	s.log.Info("starting listener")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, quic.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop the server.
func (s *DoHListener) Stop() error {
	s.log.Info("stopping listener")
	return s.server.Close()
}

func (s *DoHListener) String() string {
	return s.id
}

func (s *DoHListener) dohHandler(w http.ResponseWriter, r *http.Request) {
	if s.opt.Hostname != "" && !strings.EqualFold(hostOnly(r.Host), s.opt.Hostname) {
		s.metrics.err.WithLabelValues("host").Inc()
		http.Error(w, "unexpected host", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.getHandler(w, r)
	case http.MethodPost:
		s.postHandler(w, r)
	default:
		s.metrics.err.WithLabelValues("method").Inc()
		http.Error(w, "only GET and POST allowed", http.StatusMethodNotAllowed)
	}
}

func (s *DoHListener) getHandler(w http.ResponseWriter, r *http.Request) {
	b64, ok := r.URL.Query()["dns"]
	if !ok {
		http.Error(w, "no dns query parameter found", http.StatusBadRequest)
		return
	}
	if len(b64) < 1 {
		http.Error(w, "no dns query value found", http.StatusBadRequest)
		return
	}
	b, err := base64.RawURLEncoding.DecodeString(b64[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.parseAndRespond(b, w, r)
}

func (s *DoHListener) postHandler(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, dns.MaxMsgSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.parseAndRespond(b, w, r)
}

func (s *DoHListener) parseAndRespond(b []byte, w http.ResponseWriter, r *http.Request) {
	q := new(dns.Msg)
	if err := q.Unpack(b); err != nil {
		s.metrics.err.WithLabelValues("unpack").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	ci := ClientInfo{
		SourceIP: net.ParseIP(host),
		Listener: s.id,
	}
	log := logger(s.id, q, ci)
	log.Debug("received query")
	s.metrics.query.Inc()

	a := s.h.Handle(q, ci)
	s.metrics.response.WithLabelValues(rCode(a)).Inc()

	out, err := a.Pack()
	if err != nil {
		s.metrics.err.WithLabelValues("encode").Inc()
		log.WithError(err).Error("failed to encode response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/dns-message")
	if _, err := w.Write(out); err != nil {
		s.metrics.err.WithLabelValues("send").Inc()
		log.WithError(err).Warn("failed to send response")
	}
}

// Strips the port, if any, from a host header value.
func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
