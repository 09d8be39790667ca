package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/metrics"
	"github.com/cuemby/ripple/pkg/monitor"
	"github.com/cuemby/ripple/pkg/reconciler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background replication daemon",
	Long: `Serve starts the periodic sync loop, the invariant auditor, and an
HTTP listener exposing /healthz, /readyz, and /metrics.

Most applications embed pkg/manager directly and never invoke this
command; it exists for standalone deployments that want replication as
a sidecar process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appConfigFromCmd(cmd)
		if err != nil {
			return err
		}
		httpAddr, _ := cmd.Flags().GetString("http-addr")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mgr, closer, err := buildManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closer()

		monitor.SetVersion(Version)
		monitor.RegisterComponent("store", true, "ready")
		monitor.RegisterComponent("transport", true, "dialed")
		monitor.RegisterComponent("manager", true, "ready")

		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()

		queueWatcher := monitor.NewQueueWatcher(mgr)
		queueWatcher.Start()
		defer queueWatcher.Stop()

		syncWatcher := monitor.NewSyncWatcher(mgr)
		syncWatcher.Start()
		defer syncWatcher.Stop()

		rec := reconciler.NewReconciler(mgr)
		rec.Start()
		defer rec.Stop()

		mgr.Start(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", monitor.HealthHandler())
		mux.HandleFunc("/readyz", monitor.ReadyHandler())
		mux.HandleFunc("/livez", monitor.LivenessHandler())
		srv := &http.Server{Addr: httpAddr, Handler: mux}

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(fmt.Sprintf("http server failed: %v", err))
			}
		}()

		fmt.Printf("ripple serve listening on %s (http) against %s (sync server)\n", httpAddr, cfg.server)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)

		return nil
	},
}

func init() {
	serveCmd.Flags().String("http-addr", "127.0.0.1:9090", "Address for the health/metrics HTTP listener")
}
