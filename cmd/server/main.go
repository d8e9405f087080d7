// Package main provides the equipscan server: the inventory HTTP API, the
// websocket scanner sessions and the embedded scanner page.
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

	"github.com/harrylevesque/equipscan/internal/api"
	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/certs"
	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/inventory"
	"github.com/harrylevesque/equipscan/internal/labels"
	"github.com/harrylevesque/equipscan/internal/metrics"
	"github.com/harrylevesque/equipscan/internal/utils"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "equipscan"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Equipment barcode scanner and loan tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&g), seedCmd(&g), checkOverdueCmd(&g), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

// ===== Setup =====

type app struct {
	cfg    *config.Config
	logger *utils.Logger
	inv    *inventory.Service
	pub    events.Publisher
	close  []func()
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}

// setup loads config, logging, the database and the event publisher.
func setup(g *globalFlags, withEvents bool) (*app, error) {
	cfg, err := config.NewLoader(nil).Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logger, err := utils.NewLogger(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.Logger)
	a := &app{cfg: cfg, logger: logger}
	a.close = append(a.close, logger.Close)

	var pub events.Publisher = events.Nop{}
	if withEvents && cfg.NATS.URL != "" {
		p, err := connectEvents(cfg, logger.Logger, a)
		if err != nil {
			a.Close()
			return nil, err
		}
		pub = p
	}

	db, err := inventory.Open(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.close = append(a.close, func() {
		if err := inventory.Close(db); err != nil {
			logger.Warn("Database close failed", "error", err)
		}
	})
	a.pub = pub
	a.inv = inventory.NewService(db, inventory.Options{
		Publisher:         pub,
		Logger:            logger.Logger,
		DefaultBorrowDays: cfg.Loans.DefaultBorrowDays,
	})
	return a, nil
}

func connectEvents(cfg *config.Config, logger *slog.Logger, a *app) (events.Publisher, error) {
	url := cfg.NATS.URL
	if url == events.EmbeddedURL {
		ns, err := events.StartEmbedded()
		if err != nil {
			return nil, err
		}
		a.close = append(a.close, ns.Shutdown)
		url = ns.ClientURL()
		logger.Info("Embedded NATS server started", "url", url)
	}
	p, err := events.ConnectNATS(url, cfg.NATS.SubjectPrefix, logger)
	if err != nil {
		return nil, err
	}
	a.close = append(a.close, p.Close)
	return p, nil
}

// ===== serve =====

func serveCmd(g *globalFlags) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scanner page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(g, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Load demo equipment before serving")
	return cmd
}

func serve(g *globalFlags, seed bool) error {
	a, err := setup(g, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reopenOnHUP(ctx, logger)

	if seed {
		n, err := a.inv.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("Seeded demo data", "created", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	station := utils.StationID()
	srv := api.NewServer(api.Deps{
		Config:    cfg,
		Inventory: a.inv,
		Auth:      auth.New(cfg.Auth.Tokens),
		Publisher: a.pub,
		Metrics:   m,
		Gatherer:  reg,
		Labels:    labels.NewCache(256),
		Logger:    logger.Logger,
		Station:   station,
	})
	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("No API tokens configured; mutating routes are open")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.TLSCert != "" {
		tlsCfg, err := certs.NewCertManager(cfg.Server.TLSCert, cfg.Server.TLSKey, logger.Logger).TLSConfig()
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsCfg
	}

	go runOverdueChecks(ctx, a.inv, m, cfg.Loans.OverdueCheckInterval, logger.Logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server running", "addr", cfg.Server.Addr, "tls", httpServer.TLSConfig != nil, "station", station, "version", Version)
		if httpServer.TLSConfig != nil {
			errCh <- httpServer.ListenAndServeTLS("", "")
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runOverdueChecks marks late loans overdue every interval until ctx ends.
func runOverdueChecks(ctx context.Context, inv *inventory.Service, m *metrics.Metrics, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := inv.MarkOverdue(ctx, now)
			if err != nil {
				logger.Error("Overdue check failed", "error", err)
				continue
			}
			m.Overdue(n)
			if n > 0 {
				logger.Info("Loans marked overdue", "count", n)
			}
		}
	}
}

func reopenOnHUP(ctx context.Context, logger *utils.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := logger.Reopen(); err != nil {
				logger.Error("Log reopen failed", "error", err)
			}
		}
	}
}

// ===== seed / check-overdue =====

func seedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo categories and equipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, false)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.inv.Seed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d records into %s\n", n, a.cfg.Database.Path)
			return nil
		},
	}
}

func checkOverdueCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-overdue",
		Short: "Mark loans past their due date as overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, true)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.inv.MarkOverdue(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%d loan(s) marked overdue\n", n)
			return nil
		},
	}
}
