package ndns

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Forwarder resolves queries that aren't blocked.
type Forwarder interface {
	Resolve(name string, class, qtype uint16) (*dns.Msg, error)
	fmt.Stringer
}

// Handler processes one request at a time from any listener. It negotiates EDNS,
// classifies the query name and then either responds with NXDOMAIN or forwards the
// query. Handler is safe for concurrent use.
type Handler struct {
	classifier *Classifier
	upstream   Forwarder
	metrics    *ListenerMetrics
}

// NewHandler returns a handler that blocks using the classifier and forwards
// everything else to the upstream.
func NewHandler(classifier *Classifier, upstream Forwarder) *Handler {
	return &Handler{
		classifier: classifier,
		upstream:   upstream,
		metrics:    NewListenerMetrics("handler", "engine"),
	}
}

// Handle returns the response for a request. It never returns nil, failures are
// reported to the client as SERVFAIL.
func (h *Handler) Handle(q *dns.Msg, ci ClientInfo) (a *dns.Msg) {
	log := logger(ci.Listener, q, ci)
	h.metrics.query.Inc()
	defer func() {
		if r := recover(); r != nil {
			h.metrics.err.WithLabelValues("panic").Inc()
			log.WithField("panic", r).Error("recovered from panic while handling request")
			a = emptyServfail()
		}
		h.metrics.response.WithLabelValues(rCode(a)).Inc()
	}()

	a, err := h.handle(q, log)
	if err != nil {
		log.WithError(err).Warn("failed to handle request")
		return emptyServfail()
	}
	return a
}

func (h *Handler) handle(q *dns.Msg, log *logrus.Entry) (*dns.Msg, error) {
	if len(q.Question) != 1 {
		h.metrics.err.WithLabelValues("question").Inc()
		return nil, fmt.Errorf("expected exactly one question, got %d", len(q.Question))
	}

	var opt *dns.OPT
	if edns0 := q.IsEdns0(); edns0 != nil {
		opt = negotiateEDNS(edns0)
		if edns0.Version() > ednsVersion {
			log.WithField("version", edns0.Version()).Debug("unsupported edns version")
			opt.SetExtendedRcode(dns.RcodeBadVers)
			return withEDNS(responseWithCode(q, dns.RcodeBadVers), opt), nil
		}
	}

	if q.Response || q.Opcode != dns.OpcodeQuery {
		log.WithField("opcode", dns.OpcodeToString[q.Opcode]).Debug("not implemented")
		return withEDNS(responseWithCode(q, dns.RcodeNotImplemented), opt), nil
	}

	question := q.Question[0]
	if h.classifier.IsBlocked(question.Name) {
		log.Debug("blocking request")
		return withEDNS(responseWithCode(q, dns.RcodeNameError), opt), nil
	}

	log.WithField("resolver", h.upstream.String()).Debug("forwarding query to resolver")
	resp, err := h.upstream.Resolve(question.Name, question.Qclass, question.Qtype)
	if err != nil {
		h.metrics.err.WithLabelValues("resolve").Inc()
		return nil, errors.Wrapf(err, "failed to resolve via %s", h.upstream)
	}

	a := new(dns.Msg)
	a.SetReply(q)
	a.RecursionAvailable = resp.RecursionAvailable
	a.Rcode = resp.Rcode
	a.Answer = resp.Answer
	a.Ns = resp.Ns
	a.Extra = withoutOPT(resp.Extra)

	// Extended response codes can only be carried in an OPT record.
	if a.Rcode > 0xF && opt == nil {
		a.Rcode = dns.RcodeServerFailure
	}
	return withEDNS(a, opt), nil
}
