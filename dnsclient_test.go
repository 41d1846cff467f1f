package ndns

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestDNSClientSimple(t *testing.T) {
	addr := startTestServer(t, answerHandler)

	d, err := NewDNSClient("test-dns", addr, DNSClientOptions{Timeout: time.Second})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	a, err := d.Resolve("example.com.", dns.ClassINET, dns.TypeA)
	require.NoError(t, err)
	require.Len(t, a.Answer, 1)
	require.Equal(t, "test-dns", d.String())
}

func TestDNSClientForwardsEDNS(t *testing.T) {
	queries := make(chan *dns.Msg, 1)
	addr := startTestServer(t, func(w dns.ResponseWriter, q *dns.Msg) {
		queries <- q
		answerHandler(w, q)
	})

	d, err := NewDNSClient("test-dns", addr, DNSClientOptions{Timeout: time.Second})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	_, err = d.Resolve("example.com.", dns.ClassCHAOS, dns.TypeTXT)
	require.NoError(t, err)

	q := <-queries
	require.True(t, q.RecursionDesired)
	require.Equal(t, uint16(dns.ClassCHAOS), q.Question[0].Qclass)
	opt := q.IsEdns0()
	require.NotNil(t, opt)
	require.Equal(t, uint16(upstreamUDPSize), opt.UDPSize())
	require.False(t, opt.Do(), "DNSSEC records must not be requested upstream")
}
