package ndns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// TestForwarder is a Forwarder that answers every query with a single A record
// unless ResolveFunc is set. It counts the queries it receives.
type TestForwarder struct {
	mu          sync.Mutex
	ResolveFunc func(name string, class, qtype uint16) (*dns.Msg, error)
	hitCount    int
}

var _ Forwarder = &TestForwarder{}

func (r *TestForwarder) Resolve(name string, class, qtype uint16) (*dns.Msg, error) {
	r.mu.Lock()
	r.hitCount++
	r.mu.Unlock()
	if r.ResolveFunc != nil {
		return r.ResolveFunc(name, class, qtype)
	}
	return testAnswer(name, class, qtype), nil
}

func (r *TestForwarder) HitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitCount
}

func (r *TestForwarder) String() string {
	return "TestForwarder()"
}

// Builds a response with one A record for the question.
func testAnswer(name string, class, qtype uint16) *dns.Msg {
	a := new(dns.Msg)
	a.SetQuestion(name, qtype)
	a.Question[0].Qclass = class
	a.Response = true
	a.RecursionAvailable = true
	a.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    3600,
			},
			A: net.IP{127, 0, 0, 1},
		},
	}
	return a
}

func newTestHandler(rules []string, upstream Forwarder) *Handler {
	return NewHandler(NewClassifier(NewSuffixBlocklist(rules), NewSetCache()), upstream)
}

// Returns a free UDP address on the loopback interface.
func getUDPLnAddress(t *testing.T) string {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	return pc.LocalAddr().String()
}

// Returns a server config with a self-signed certificate for host, and a client
// config trusting it.
func testTLSConfigs(t *testing.T, host string) (server, client *tls.Config) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	server = &tls.Config{
		MinVersion: tls.VersionTLS13,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        cert,
		}},
	}
	client = &tls.Config{RootCAs: pool}
	return server, client
}
