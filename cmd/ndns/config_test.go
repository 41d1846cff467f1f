package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	name := filepath.Join(t.TempDir(), "ndns.toml")
	require.NoError(t, os.WriteFile(name, []byte(content), 0o600))
	return name
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("UPSTREAM_ADDR", "9.9.9.9:53")
	t.Setenv("BIND_UDP_ADDR", "127.0.0.1:5353")
	t.Setenv("BIND_TIMEOUT", "2")
	t.Setenv("UPSTREAM_TIMEOUT", "1500ms")
	t.Setenv("CACHE_SIZE", "1000")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, "udp", cfg.UpstreamKind)
	require.Equal(t, "9.9.9.9:53", cfg.UpstreamAddr)
	require.True(t, cfg.BindUDP)
	require.Equal(t, "127.0.0.1:5353", cfg.BindUDPAddr)
	require.Equal(t, 2*time.Second, cfg.BindTimeout)
	require.Equal(t, 1500*time.Millisecond, cfg.UpstreamTimeout)
	require.Equal(t, 1000, cfg.CacheSize)
	require.Equal(t, "default.blocklist", cfg.BlocklistPath)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	name := writeConfig(t, `
upstream_kind = "quic"
upstream_addr = "192.0.2.1:853"
upstream_uri  = "quic://dns.example.com"

bind_udp_addr  = "127.0.0.1:53"
blocklist_path = "/etc/ndns/blocklist"
log_level      = "debug"
`)
	// Environment variables take precedence over the file
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := loadConfig(name)
	require.NoError(t, err)
	require.Equal(t, "quic", cfg.UpstreamKind)
	require.Equal(t, "quic://dns.example.com", cfg.UpstreamURI)
	require.Equal(t, "/etc/ndns/blocklist", cfg.BlocklistPath)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing upstream address": {
			"BIND_UDP_ADDR": "127.0.0.1:53",
		},
		"upstream address with hostname": {
			"UPSTREAM_ADDR": "dns.example.com:53",
			"BIND_UDP_ADDR": "127.0.0.1:53",
		},
		"missing udp bind address": {
			"UPSTREAM_ADDR": "9.9.9.9:53",
		},
		"unknown upstream kind": {
			"UPSTREAM_KIND": "tcp",
			"UPSTREAM_ADDR": "9.9.9.9:53",
			"BIND_UDP_ADDR": "127.0.0.1:53",
		},
		"h3 upstream without uri": {
			"UPSTREAM_KIND": "h3",
			"UPSTREAM_ADDR": "9.9.9.9:443",
			"BIND_UDP_ADDR": "127.0.0.1:53",
		},
		"quic listener without certificate": {
			"UPSTREAM_ADDR":  "9.9.9.9:53",
			"BIND_UDP":       "false",
			"BIND_QUIC":      "true",
			"BIND_QUIC_ADDR": "127.0.0.1:853",
		},
		"no listeners": {
			"UPSTREAM_ADDR": "9.9.9.9:53",
			"BIND_UDP":      "false",
		},
		"negative cache size": {
			"UPSTREAM_ADDR": "9.9.9.9:53",
			"BIND_UDP_ADDR": "127.0.0.1:53",
			"CACHE_SIZE":    "-1",
		},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			require.Error(t, err)
		})
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	name := writeConfig(t, `
upstream_addr = "9.9.9.9:53"
bind_udp_addr = "127.0.0.1:53"
upstream_adress = "9.9.9.9:53"
`)
	_, err := loadConfig(name)
	require.Error(t, err)
}
