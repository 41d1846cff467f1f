package ndns

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func startTestDNSListener(t *testing.T, h *Handler) string {
	addr := getUDPLnAddress(t)
	s := NewDNSListener("test-dns", addr, ListenOptions{}, h)
	started := make(chan struct{})
	s.NotifyStartedFunc = func() { close(started) }
	go func() { _ = s.Start() }()
	<-started
	t.Cleanup(func() { _ = s.Stop() })
	return addr
}

func TestDNSListenerSimple(t *testing.T) {
	upstream := new(TestForwarder)
	addr := startTestDNSListener(t, newTestHandler([]string{"blocked.test"}, upstream))

	c := new(dns.Client)
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, _, err := c.Exchange(q, addr)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
	require.Len(t, a.Answer, 1)
	require.Equal(t, 1, upstream.HitCount())

	q.SetQuestion("www.blocked.test.", dns.TypeA)
	a, _, err = c.Exchange(q, addr)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, a.Rcode)
	require.Equal(t, 1, upstream.HitCount())
}

func TestDNSListenerTruncate(t *testing.T) {
	upstream := &TestForwarder{
		ResolveFunc: func(name string, class, qtype uint16) (*dns.Msg, error) {
			a := testAnswer(name, class, qtype)
			for i := 0; i < 100; i++ {
				a.Answer = append(a.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.IPv4(10, 0, 0, byte(i)),
				})
			}
			return a, nil
		},
	}
	addr := startTestDNSListener(t, newTestHandler(nil, upstream))

	// Without EDNS the response has to fit into 512 bytes
	c := new(dns.Client)
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, _, err := c.Exchange(q, addr)
	require.NoError(t, err)
	require.True(t, a.Truncated)

	// With a large enough buffer it's sent whole
	c = &dns.Client{UDPSize: 4096}
	q.SetEdns0(4096, false)
	a, _, err = c.Exchange(q, addr)
	require.NoError(t, err)
	require.False(t, a.Truncated)
	require.Len(t, a.Answer, 101)
}

func TestDNSListenerStopBeforeStart(t *testing.T) {
	s := NewDNSListener("test-dns", "127.0.0.1:0", ListenOptions{}, newTestHandler(nil, new(TestForwarder)))
	require.NoError(t, s.Stop())

	done := make(chan error)
	go func() { done <- s.Start() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener started after it was stopped")
	}
}

func TestDNSListenerStop(t *testing.T) {
	s := NewDNSListener("test-dns", "127.0.0.1:0", ListenOptions{}, newTestHandler(nil, new(TestForwarder)))
	started := make(chan struct{})
	s.NotifyStartedFunc = func() { close(started) }
	done := make(chan error)
	go func() { done <- s.Start() }()
	<-started

	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener still running after stop")
	}
}
