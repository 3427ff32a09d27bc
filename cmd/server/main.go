package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arencloud/s3keeper/internal/analytics"
	"github.com/arencloud/s3keeper/internal/api"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/config"
	"github.com/arencloud/s3keeper/internal/db"
	"github.com/arencloud/s3keeper/internal/gateway"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/s3"
	"github.com/arencloud/s3keeper/internal/secrets"
	"github.com/arencloud/s3keeper/internal/vault"
	"github.com/arencloud/s3keeper/internal/version"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.SafeExit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, audit writer and retention job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configFile)
		},
	}

	root := &cobra.Command{
		Use:          version.Name,
		Short:        "Multi-tenant S3 storage gateway",
		Long:         "s3keeper keeps per-user S3 credentials, runs bucket and object operations\non their behalf and records an audit trail of everything it does.",
		Version:      version.Version,
		RunE:         serve.RunE,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	root.AddCommand(serve, newAuditCmd(&configFile), &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Name, version.Version)
		},
	})
	return root
}

func newAuditCmd(configFile *string) *cobra.Command {
	var days int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than the retention window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			logger := logging.NewWithOptions(cfg.Env, logging.Options{Level: cfg.LogLevel, JSON: &cfg.LogJSON})
			gdb, err := db.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			retention := cfg.AuditRetention()
			if days > 0 {
				retention = time.Duration(days) * 24 * time.Hour
			}
			trail := audit.NewTrail(audit.NewStore(gdb), logger, audit.Options{QueueSize: cfg.AuditQueueSize})
			n, err := trail.Purge(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d audit entries\n", n)
			return nil
		},
	}
	purge.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to audit_retention_days)")

	cmd := &cobra.Command{Use: "audit", Short: "Audit trail maintenance"}
	cmd.AddCommand(purge)
	return cmd
}

func runServer(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger := logging.NewWithOptions(cfg.Env, logging.Options{Level: cfg.LogLevel, JSON: &cfg.LogJSON})
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close(gdb)

	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	cfg.EncryptionKey = ""

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trail := audit.NewTrail(audit.NewStore(gdb), logger, audit.Options{QueueSize: cfg.AuditQueueSize})
	// the writer outlives the signal so requests finishing during Shutdown are still audited
	trail.Start(context.Background())
	defer trail.Stop()
	trail.StartRetentionJob(ctx, cfg.AuditRetention(), cfg.AuditCleanupHour)

	factory := s3.NewFactory(cipher, logger)
	v := vault.New(vault.NewStore(gdb), cipher, factory, trail, logger)
	gw := gateway.New(v, factory, trail, logger, gateway.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		ListMaxKeys:   cfg.ListMaxKeys,
		PresignExpiry: cfg.PresignExpiry(),
	})
	agg := analytics.New(v, factory, trail, logger, analytics.Options{
		CacheTTL:   cfg.AnalyticsCacheTTL,
		BucketTopK: cfg.AnalyticsBucketTopK,
		GlobalTopK: cfg.AnalyticsGlobalTopK,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           api.Router(api.Deps{Config: cfg, Logger: logger, DB: gdb, Vault: v, Gateway: gw, Analytics: agg, Audit: trail}),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0, // allow long-running uploads/downloads; rely on LB timeouts
		WriteTimeout:      0,
		MaxHeaderBytes:    1 << 20, // 1MB headers
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "version", version.Version, "dbDriver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	trail.Stop()
	logger.Info("server stopped", "auditDropped", trail.DroppedCount())
	return nil
}
