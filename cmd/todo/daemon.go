package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/daemon"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/dashboard"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Keep the public mirror reconciled (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Reconcile every configured scope on start
  2. Reconcile again every sync.reconcile_interval
  3. With the dir backend, watch the shared records directory and
     reconcile once changes settle
  4. Optionally serve the live dashboard (--dashboard)

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}
		runDaemon(cmd, withDashboard, port)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the daemon with the live WebSocket dashboard",
	Long: `Run the sync daemon and serve a live feed of its activity.

WebSocket messages include:
- operation: a publish, unpublish, status check or reconciliation started or finished
- reconciled: a reconciliation pass committed (row counts, creator names)
- stats: running totals, also sent to every client on connect

Endpoints:
  ws://localhost:8080/ws        live feed
  http://localhost:8080/health  status and coordinator queue depth
  http://localhost:8080/metrics Prometheus metrics`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}
		runDaemon(cmd, true, port)
	},
}

// coordStats reads queue statistics from a coordinator that is set once
// the app is open.
type coordStats struct {
	coord *coordinator.Coordinator
}

func (s *coordStats) Stats() coordinator.Stats {
	if s.coord == nil {
		return coordinator.Stats{}
	}
	return s.coord.Stats()
}

func runDaemon(cmd *cobra.Command, withDashboard bool, port int) {
	ctx := cmd.Context()

	var (
		server    *dashboard.Server
		observers []coordinator.Observer
		stats     = &coordStats{}
		metricsH  http.Handler
	)
	if withDashboard {
		server = dashboard.NewServer(&dashboard.Config{
			Port:  port,
			Stats: stats,
			// metrics are registered once the app is open
			Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if metricsH == nil {
					http.Error(w, "starting", http.StatusServiceUnavailable)
					return
				}
				metricsH.ServeHTTP(w, r)
			}),
			Logger: logs.Warnings("dashboard"),
		})
		observers = append(observers, dashboard.NewHandler(server, logs.For("dashboard")))
	}

	a := mustRemote(ctx, observers...)
	defer a.Close()
	stats.coord = a.coord
	metricsH = a.metrics.Handler()

	scopes, err := cfg.ReconcileScopes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(a.coord, scopes, &daemon.Config{
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		DebounceInterval:  cfg.Sync.DebounceInterval,
		RecordsDir:        a.recordsDir,
		Logger:            logs.Warnings("daemon"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
		os.Exit(1)
	}

	if server != nil {
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
			}
		}()
	}

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Backend: %s\n", cfg.Remote.Backend)
	if a.recordsDir != "" {
		fmt.Printf("   Watching: %s\n", a.recordsDir)
	}
	fmt.Printf("   Scopes: %v every %v\n", cfg.Sync.Scopes, cfg.Sync.ReconcileInterval)
	fmt.Printf("   Mirror: %s\n", cfg.Database.Path)
	if server != nil {
		fmt.Printf("   Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", port, port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	// blocks until ctx is cancelled by a signal
	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Daemon stopped after %d passes\n", ui.RenderPass("✓"), d.Passes())
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the live dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port (default: dashboard.port from config)")
	dashboardCmd.Flags().IntP("port", "p", 8080, "port to listen on (default: dashboard.port from config)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
