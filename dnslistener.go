package ndns

import (
	"net"
	"sync"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSListener is a standard DNS listener for UDP.
type DNSListener struct {
	*dns.Server
	id string

	mu      sync.Mutex
	stopped bool
}

var _ Listener = &DNSListener{}

// NewDNSListener returns an instance of a UDP DNS listener.
func NewDNSListener(id, addr string, opt ListenOptions, h *Handler) *DNSListener {
	return &DNSListener{
		id: id,
		Server: &dns.Server{
			Addr:         addr,
			Net:          "udp",
			Handler:      listenHandler(id, h),
			ReadTimeout:  opt.timeout(),
			WriteTimeout: opt.timeout(),
		},
	}
}

// Start the DNS listener. It returns nil right away if Stop was called first.
func (s *DNSListener) Start() error {
	pc, err := net.ListenPacket(s.Net, s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return pc.Close()
	}
	s.PacketConn = pc
	s.mu.Unlock()

	Log.WithFields(logrus.Fields{"id": s.id, "protocol": s.Net, "addr": pc.LocalAddr()}).Info("starting listener")
	err = s.ActivateAndServe()
	if s.isStopped() {
		return nil
	}
	return err
}

// Stop the listener.
func (s *DNSListener) Stop() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": s.Net, "addr": s.Addr}).Info("stopping listener")
	s.mu.Lock()
	s.stopped = true
	pc := s.PacketConn
	s.mu.Unlock()
	if pc == nil {
		return nil
	}
	// Shutdown fails if the server isn't marked as started yet. Closing the socket
	// ends it either way.
	if err := s.Shutdown(); err != nil {
		_ = pc.Close()
	}
	return nil
}

func (s *DNSListener) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *DNSListener) String() string {
	return s.id
}

// DNS handler to pass all incoming requests to the handler.
func listenHandler(id string, h *Handler) dns.HandlerFunc {
	metrics := NewListenerMetrics("listener", id)
	return func(w dns.ResponseWriter, req *dns.Msg) {
		ci := ClientInfo{
			Listener: id,
		}
		switch addr := w.RemoteAddr().(type) {
		case *net.TCPAddr:
			ci.SourceIP = addr.IP
		case *net.UDPAddr:
			ci.SourceIP = addr.IP
		}
		log := logger(id, req, ci)
		log.Debug("received query")
		metrics.query.Inc()

		a := h.Handle(req, ci)

		// Check the response actually fits. If not, respond with TC flag.
		maxSize := dns.MinMsgSize
		if edns0 := a.IsEdns0(); edns0 != nil {
			maxSize = int(edns0.UDPSize())
		}
		a.Truncate(maxSize)

		metrics.response.WithLabelValues(rCode(a)).Inc()
		if err := w.WriteMsg(a); err != nil {
			metrics.err.WithLabelValues("send").Inc()
			log.WithError(err).Warn("failed to send response")
		}
	}
}
