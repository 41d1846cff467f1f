package ndns

import (
	"strconv"

	"github.com/miekg/dns"
)

// Return the query name from a DNS query.
func qName(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// Returns the string representation of the query type.
func qType(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return dns.Type(q.Question[0].Qtype).String()
}

// Return the result code name from a DNS response.
func rCode(r *dns.Msg) string {
	if result, ok := dns.RcodeToString[r.Rcode]; ok {
		return result
	}
	return strconv.Itoa(r.Rcode)
}

// Build a response for a query with the given response code. The question is
// copied, no records are added.
func responseWithCode(q *dns.Msg, rcode int) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, rcode)
	return a
}

// Returns a SERVFAIL response that doesn't refer to any request, used when
// nothing about the request can be trusted.
func emptyServfail() *dns.Msg {
	a := new(dns.Msg)
	a.Response = true
	a.Opcode = dns.OpcodeQuery
	a.Rcode = dns.RcodeServerFailure
	return a
}

// Returns the records without any OPT pseudo-records. The OPT record is
// hop-by-hop and must not be relayed to the client.
func withoutOPT(rrs []dns.RR) []dns.RR {
	if len(rrs) == 0 {
		return nil
	}
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		out = append(out, rr)
	}
	return out
}

// Returns true if the message carries an edns-tcp-keepalive option, which is not
// allowed over QUIC.
func hasKeepalive(m *dns.Msg) bool {
	edns0 := m.IsEdns0()
	if edns0 == nil {
		return false
	}
	for _, opt := range edns0.Option {
		if opt.Option() == dns.EDNS0TCPKEEPALIVE {
			return true
		}
	}
	return false
}
