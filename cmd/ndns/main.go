package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ndns-project/ndns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "ndns",
		Short: "Filtering DNS forwarder",
		Long: `Filtering DNS forwarder.

It listens for DNS queries over UDP, DNS-over-HTTP/3 and
DNS-over-QUIC. Queries for names on the blocklist, or any
of their subdomains, are answered with NXDOMAIN. All other
queries are forwarded to one upstream resolver over UDP,
HTTP/3 or QUIC.

Settings are read from an optional TOML file and can be
overridden with environment variables of the same name in
upper case, for example UPSTREAM_ADDR.
`,
		Example: `  ndns --config ndns.toml
  UPSTREAM_ADDR=9.9.9.9:53 BIND_UDP_ADDR=127.0.0.1:5353 ndns`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(configFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	ndns.Log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blocklist, err := loadBlocklist(cfg)
	if err != nil {
		return err
	}
	cache, err := ndns.NewDecisionCache(cfg.CacheSize)
	if err != nil {
		return err
	}
	classifier := ndns.NewClassifier(blocklist, cache)

	kind, err := ndns.ParseUpstreamKind(cfg.UpstreamKind)
	if err != nil {
		return err
	}
	upstream, err := ndns.NewUpstream(ctx, ndns.UpstreamOptions{
		Kind:    kind,
		Addr:    cfg.UpstreamAddr,
		URI:     cfg.UpstreamURI,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return err
	}

	listeners, err := buildListeners(cfg, ndns.NewHandler(classifier, upstream))
	if err != nil {
		return err
	}
	return serve(ctx, upstream, listeners)
}

func loadBlocklist(cfg config) (*ndns.SuffixBlocklist, error) {
	var loader ndns.BlocklistLoader = ndns.NewFileLoader(cfg.BlocklistPath)
	if cfg.BlocklistURL != "" {
		loader = ndns.NewHTTPLoader(cfg.BlocklistURL)
	}
	rules, err := loader.Load()
	if err != nil {
		return nil, err
	}
	blocklist := ndns.NewSuffixBlocklist(rules)
	ndns.Log.WithField("suffixes", blocklist.Len()).Info("loaded blocklist")
	return blocklist, nil
}

func buildListeners(cfg config, h *ndns.Handler) ([]ndns.Listener, error) {
	opt := ndns.ListenOptions{Timeout: cfg.BindTimeout}

	var listeners []ndns.Listener
	if cfg.BindUDP {
		listeners = append(listeners, ndns.NewDNSListener("udp", cfg.BindUDPAddr, opt, h))
	} else {
		ndns.Log.Info("not binding udp socket")
	}
	if cfg.BindH3 || cfg.BindQUIC {
		tlsConfig, err := ndns.TLSServerConfig(cfg.BindCertPath, cfg.BindPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		if cfg.BindH3 {
			listeners = append(listeners, ndns.NewDoHListener("h3", cfg.BindH3Addr, ndns.DoHListenerOptions{
				ListenOptions: opt,
				Hostname:      cfg.BindHostname,
				TLSConfig:     tlsConfig,
			}, h))
		}
		if cfg.BindQUIC {
			listeners = append(listeners, ndns.NewDoQListener("quic", cfg.BindQUICAddr, ndns.DoQListenerOptions{
				ListenOptions: opt,
				TLSConfig:     tlsConfig,
			}, h))
		}
	}
	if cfg.AdminAddr != "" {
		listeners = append(listeners, ndns.NewAdminListener("admin", cfg.AdminAddr))
	}
	return listeners, nil
}

// Runs the upstream connection and all listeners until one of them fails or the
// context is cancelled. Losing the upstream connection is fatal.
func serve(ctx context.Context, upstream ndns.Upstream, listeners []ndns.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := upstream.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		ndns.Log.WithError(err).Error("upstream connection closed unexpectedly")
		if err == nil {
			err = ndns.ErrUpstreamClosed
		}
		return err
	})
	for _, l := range listeners {
		g.Go(func() error {
			if err := l.Start(); err != nil {
				return errors.Wrapf(err, "listener %s failed", l)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			if err := l.Stop(); err != nil {
				ndns.Log.WithError(err).WithField("id", l.String()).Warn("failed to stop listener")
			}
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		ndns.Log.Info("dns server stopped")
		return nil
	}
	return err
}
