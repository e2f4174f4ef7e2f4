package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/brbxai/recommand-peppol-sub001/internal/alert"
	"github.com/brbxai/recommand-peppol-sub001/internal/config"
	"github.com/brbxai/recommand-peppol-sub001/internal/keystore"
	"github.com/brbxai/recommand-peppol-sub001/internal/metrics"
	"github.com/brbxai/recommand-peppol-sub001/internal/registration"
	"github.com/brbxai/recommand-peppol-sub001/internal/server"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage/mongodb"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage/sqlite"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
	"github.com/brbxai/recommand-peppol-sub001/pkg/transport"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(opts *options) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registration and discovery API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, opts.logLevel)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path (YAML)")
	return cmd
}

func runServe(ctx context.Context, configPath, logLevel string) error {
	logger := newLogger(os.Stderr, logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	provider, err := keystore.NewProvider(&cfg.SMP.Endpoint, logger)
	if err != nil {
		_ = store.Close(context.Background())
		return fmt.Errorf("load access point certificate: %w", err)
	}
	// fail fast on a missing or unreadable certificate
	if _, err := provider.Certificate(ctx); err != nil {
		_ = store.Close(context.Background())
		return fmt.Errorf("load access point certificate: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	httpCfg := transport.DefaultConfig()
	httpCfg.Timeout = cfg.SMP.Timeout
	httpCfg.MaxConnsPerHost = cfg.SMP.DiscoveryConcurrency
	httpClient := transport.NewHTTPClient(httpCfg)

	endpoint := smp.Endpoint{
		URL:                 cfg.SMP.Endpoint.URL,
		Certificates:        provider,
		ServiceDescription:  cfg.SMP.Endpoint.ServiceDescription,
		TechnicalContactURL: cfg.SMP.Endpoint.TechnicalContactURL,
	}
	publisher := func(rc config.RegistryConfig) *smp.Publisher {
		return smp.NewPublisher(smp.NewWriter(smp.WriterConfig{
			BaseURL:    rc.URL,
			Token:      rc.Token,
			HTTPClient: httpClient,
			Observer:   m,
			Logger:     logger,
		}), endpoint)
	}

	teams := team.NewService(store, publisher(cfg.SMP.Production), publisher(cfg.SMP.Test), &team.Config{
		CacheTTL: cfg.SMP.TeamCacheTTL,
		Logger:   logger,
	})

	sinks := alert.Multi{alert.NewLogSink(logger)}
	if cfg.Alerts.WebhookURL != "" {
		webhook := alert.NewWebhookSink(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout, logger)
		defer webhook.Wait()
		sinks = append(sinks, webhook)
	}

	srv := server.New(cfg, server.Services{
		Store: store,
		Teams: teams,
		Registration: registration.NewService(store, teams, &registration.Config{
			Alerts:   sinks,
			Observer: m,
			Logger:   logger,
		}),
		Discovery: newDiscoveryClient(discoveryOptions{
			dnsServer:      cfg.SMP.DNSServer,
			productionZone: cfg.SMP.Production.SMLZone,
			testZone:       cfg.SMP.Test.SMLZone,
			concurrency:    cfg.SMP.DiscoveryConcurrency,
			httpClient:     httpClient,
			observer:       m,
		}, logger),
		Gatherer: reg,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = store.Close(context.Background())
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("using sqlite storage", "path", cfg.Storage.SQLite.Path)
		return store, nil
	default:
		store, err := mongodb.NewStore(ctx, &mongodb.Config{
			URI:      cfg.Storage.MongoDB.URI,
			Database: cfg.Storage.MongoDB.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("open mongodb store: %w", err)
		}
		slog.Info("using mongodb storage", "database", cfg.Storage.MongoDB.Database)
		return store, nil
	}
}

// discoveryOptions configure the read-only discovery client
type discoveryOptions struct {
	dnsServer      string
	productionZone string
	testZone       string
	concurrency    int
	httpClient     *http.Client
	observer       discovery.Observer
}

func newDiscoveryClient(o discoveryOptions, logger *slog.Logger) *discovery.Client {
	cfg := discovery.ClientConfig{
		Resolver: discovery.NewSMLResolver(discovery.SMLResolverConfig{
			ProductionZone: o.productionZone,
			TestZone:       o.testZone,
			Lookup:         discovery.NewDNSLookup(o.dnsServer),
			Logger:         logger,
		}),
		Reader: discovery.NewReader(discovery.ReaderConfig{
			HTTPClient: o.httpClient,
			Logger:     logger,
		}),
		Concurrency: o.concurrency,
		Observer:    o.observer,
		Logger:      logger,
	}
	return discovery.NewClient(cfg)
}
