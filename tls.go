package ndns

import (
	"crypto/tls"
	"fmt"

	"github.com/pkg/errors"
)

// TLSServerConfig is a convenience function that builds a tls.Config instance for
// the QUIC and HTTP/3 listeners from a certificate chain and key in PEM files.
func TLSServerConfig(crtFile, keyFile string) (*tls.Config, error) {
	if crtFile == "" || keyFile == "" {
		return nil, fmt.Errorf("certificate and private key are required")
	}
	cert, err := tls.LoadX509KeyPair(crtFile, keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load certificate from %s", crtFile)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// Returns a copy of the client config, or a new one, with the server name and the
// application protocols set.
func clientTLSConfig(base *tls.Config, serverName string, protos ...string) *tls.Config {
	var tlsConfig *tls.Config
	if base == nil {
		tlsConfig = new(tls.Config)
	} else {
		tlsConfig = base.Clone()
	}
	tlsConfig.ServerName = serverName
	tlsConfig.NextProtos = protos
	return tlsConfig
}
