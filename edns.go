package ndns

import "github.com/miekg/dns"

const (
	// Highest EDNS version understood by the server.
	ednsVersion = 0

	// Payload sizes below this are raised to it in responses.
	minEDNSPayload = dns.MinMsgSize
)

// Builds the OPT record for a response to a query carrying EDNS. The DO bit is
// always set, the payload size is never smaller than 512 and the version is
// pinned to the one supported by the server.
func negotiateEDNS(req *dns.OPT) *dns.OPT {
	opt := &dns.OPT{
		Hdr: dns.RR_Header{
			Name:   ".",
			Rrtype: dns.TypeOPT,
		},
	}
	size := req.UDPSize()
	if size < minEDNSPayload {
		size = minEDNSPayload
	}
	opt.SetUDPSize(size)
	opt.SetVersion(ednsVersion)
	opt.SetDo()
	return opt
}

// Adds the OPT record, if any, to the response.
func withEDNS(a *dns.Msg, opt *dns.OPT) *dns.Msg {
	if opt != nil {
		a.Extra = append(a.Extra, opt)
	}
	return a
}
