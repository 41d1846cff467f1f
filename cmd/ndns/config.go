package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type config struct {
	UpstreamKind    string        `toml:"upstream_kind" koanf:"upstream_kind" validate:"oneof=udp h3 quic"`
	UpstreamAddr    string        `toml:"upstream_addr" koanf:"upstream_addr" validate:"required,ip_port"`
	UpstreamURI     string        `toml:"upstream_uri" koanf:"upstream_uri" validate:"required_unless=UpstreamKind udp"`
	UpstreamTimeout time.Duration `toml:"upstream_timeout" koanf:"upstream_timeout" validate:"gte=0"`

	BindUDP      bool   `toml:"bind_udp" koanf:"bind_udp"`
	BindUDPAddr  string `toml:"bind_udp_addr" koanf:"bind_udp_addr" validate:"required_if=BindUDP true,omitempty,hostname_port"`
	BindH3       bool   `toml:"bind_h3" koanf:"bind_h3"`
	BindH3Addr   string `toml:"bind_h3_addr" koanf:"bind_h3_addr" validate:"required_if=BindH3 true,omitempty,hostname_port"`
	BindQUIC     bool   `toml:"bind_quic" koanf:"bind_quic"`
	BindQUICAddr string `toml:"bind_quic_addr" koanf:"bind_quic_addr" validate:"required_if=BindQUIC true,omitempty,hostname_port"`

	BindTimeout        time.Duration `toml:"bind_timeout" koanf:"bind_timeout" validate:"gte=0"`
	BindHostname       string        `toml:"bind_hostname" koanf:"bind_hostname"`
	BindCertPath       string        `toml:"bind_cert_path" koanf:"bind_cert_path"`
	BindPrivateKeyPath string        `toml:"bind_private_key_path" koanf:"bind_private_key_path"`

	BlocklistPath string `toml:"blocklist_path" koanf:"blocklist_path" validate:"required_without=BlocklistURL"`
	BlocklistURL  string `toml:"blocklist_url" koanf:"blocklist_url" validate:"omitempty,url"`

	// Maximum number of names kept in the decision cache, 0 for no limit.
	CacheSize int `toml:"cache_size" koanf:"cache_size" validate:"gte=0"`

	LogLevel  string `toml:"log_level" koanf:"log_level" validate:"oneof=trace debug info warn error"`
	AdminAddr string `toml:"admin_addr" koanf:"admin_addr" validate:"omitempty,hostname_port"`
}

var defaultConfig = config{
	UpstreamKind:    "udp",
	UpstreamTimeout: 5 * time.Second,
	BindUDP:         true,
	BindTimeout:     500 * time.Millisecond,
	BlocklistPath:   "default.blocklist",
	LogLevel:        "info",
}

// Environment variables that can override settings, all other variables are
// ignored. Durations given as plain numbers are in seconds.
var envKeys = map[string]bool{
	"upstream_kind":         false,
	"upstream_addr":         false,
	"upstream_uri":          false,
	"upstream_timeout":      true,
	"bind_udp":              false,
	"bind_udp_addr":         false,
	"bind_h3":               false,
	"bind_h3_addr":          false,
	"bind_quic":             false,
	"bind_quic_addr":        false,
	"bind_timeout":          true,
	"bind_hostname":         false,
	"bind_cert_path":        false,
	"bind_private_key_path": false,
	"blocklist_path":        false,
	"blocklist_url":         false,
	"cache_size":            false,
	"log_level":             false,
	"admin_addr":            false,
}

// loadConfig returns the defaults, overridden by the config file if one is given,
// overridden by environment variables. The result is validated.
func loadConfig(name string) (config, error) {
	c := defaultConfig
	if name != "" {
		md, err := toml.DecodeFile(name, &c)
		if err != nil {
			return c, errors.Wrapf(err, "failed to read config %s", name)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return c, fmt.Errorf("unknown keys in config %s: %v", name, undecoded)
		}
	}
	if err := loadEnv(&c); err != nil {
		return c, errors.Wrap(err, "failed to read environment")
	}
	return c, validateConfig(c)
}

func loadEnv(c *config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(key)
			isDuration, ok := envKeys[key]
			if !ok {
				return "", nil
			}
			value = strings.TrimSpace(value)
			if _, err := strconv.Atoi(value); err == nil && isDuration {
				value += "s"
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return err
	}
	return k.UnmarshalWithConf("", c, koanf.UnmarshalConf{Tag: "koanf"})
}

func validateConfig(c config) error {
	v := validator.New()
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if (c.BindH3 || c.BindQUIC) && (c.BindCertPath == "" || c.BindPrivateKeyPath == "") {
		return errors.New("invalid configuration: bind_cert_path and bind_private_key_path are required for h3 and quic listeners")
	}
	if !c.BindUDP && !c.BindH3 && !c.BindQUIC {
		return errors.New("invalid configuration: no listener enabled")
	}
	return nil
}

// validIPPort checks the value is an IP address and a non-zero port.
func validIPPort(fl validator.FieldLevel) bool {
	ip, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}
