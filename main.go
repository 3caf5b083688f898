// NetScan — network traffic anomaly detector with a web dashboard.
// Author: vesaa | License: MIT | https://github.com/vesaa/netscan
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vesaa/netscan/internal/agent"
	"github.com/vesaa/netscan/internal/config"
	"github.com/vesaa/netscan/internal/logging"
	"github.com/vesaa/netscan/internal/monitor"
	"github.com/vesaa/netscan/internal/server"
	"github.com/vesaa/netscan/internal/traffic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const asciiLogo = `
 ███╗   ██╗███████╗████████╗███████╗ ██████╗ █████╗ ███╗   ██╗
 ████╗  ██║██╔════╝╚══██╔══╝██╔════╝██╔════╝██╔══██╗████╗  ██║
 ██╔██╗ ██║█████╗     ██║   ███████╗██║     ███████║██╔██╗ ██║
 ██║╚██╗██║██╔══╝     ██║   ╚════██║██║     ██╔══██║██║╚██╗██║
 ██║ ╚████║███████╗   ██║   ███████║╚██████╗██║  ██║██║ ╚████║
 ╚═╝  ╚═══╝╚══════╝   ╚═╝   ╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═══╝
`

const version = "v0.1.0"

func printBanner(w io.Writer, mode string) {
	fmt.Fprint(w, asciiLogo)
	fmt.Fprintf(w, "  ► NetScan %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "netscan",
		Short: "NetScan — network traffic anomaly detector",
		Long: `NetScan samples cumulative interface counters at a fixed interval,
derives throughput, error and drop rates, and flags anomalous intervals.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml or ~/.netscan/config.yaml)")

	loadConfig := func() (*config.Config, error) {
		if cfgFile != "" {
			return config.LoadFile(cfgFile)
		}
		return config.Load()
	}

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the dashboard server and traffic scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(cmd.OutOrStdout(), "SERVER")

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServer(cfg)
		},
	}

	// ── scan subcommand ───────────────────────────────────────────────────────
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a traffic scan in the terminal and print each interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(cmd.OutOrStdout(), "SCAN")

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// CLI flags override config values.
			if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
				cfg.PollInterval = d
			}
			if host, _ := cmd.Flags().GetString("ssh"); host != "" {
				cfg.SSHHost = host
			}
			count, _ := cmd.Flags().GetInt("count")
			return runScan(cmd.Context(), cfg, count, cmd.OutOrStdout())
		},
	}
	scanCmd.Flags().Duration("interval", 0, "Poll interval, e.g. 3s (overrides config)")
	scanCmd.Flags().Int("count", 0, "Stop after this many rate intervals (0 = until interrupted)")
	scanCmd.Flags().String("ssh", "", "Sample a remote host's counters over SSH, e.g. 192.168.1.10:22")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print NetScan version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NetScan %s  |  Author: vesaa\n", version)
		},
	}

	root.AddCommand(serverCmd, scanCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openSource picks the counter source: the remote host when SSH is
// configured, the local kernel counters otherwise. The returned closer is
// never nil.
func openSource(cfg *config.Config) (monitor.Source, string, io.Closer, error) {
	if cfg.SSHHost == "" {
		return agent.NewCollector(clock.New()), sourceLabel(""), nopCloser{}, nil
	}
	host := cfg.SSHHost
	if !containsPort(host) {
		host += ":22"
	}
	client, err := agent.DialSSH(host, cfg.SSHUser, cfg.SSHPassword, cfg.SSHKeyPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("connecting to %s: %w", host, err)
	}
	return agent.NewSSHSource(client, clock.New()), sourceLabel(client.Host()), client, nil
}

// sourceLabel names a counter source the way scan sessions record it.
func sourceLabel(sshHost string) string {
	if sshHost == "" {
		return "local"
	}
	return "ssh:" + sshHost
}

func runServer(cfg *config.Config) (err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	src, label, srcCloser, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, srcCloser.Close()) }()

	db, err := server.OpenDB(cfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	store := server.NewStore(db, label, logger.Named("store"))

	mon := monitor.New(src, traffic.NewAnalyzer(cfg.AnalyzerConfig()),
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithSourceTimeout(cfg.SourceTimeout),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithListener(store),
	)
	var lookup *agent.IPLookup
	if cfg.ExternalIPLookup {
		lookup = agent.NewIPLookup(cfg.ExternalIPServices)
	}
	telemetry := agent.NewTelemetry(cfg.StatusCacheTTL, cfg.InterfaceCacheTTL, cfg.ExternalIPCacheTTL, lookup)
	auth := server.NewAuth(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPass)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware)
	server.NewAPI(auth, mon, telemetry, store, logger.Named("api")).Register(engine)
	server.RegisterStaticFiles(engine)

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	fmt.Printf("  ✓ Dashboard (Web UI + JWT API) → http://%s\n", addr)
	fmt.Printf("  ✓ Counter source:               %s\n", label)
	fmt.Printf("  ✓ Poll interval:                %s\n", cfg.PollInterval)
	fmt.Printf("  ✓ Default login: %s / %s\n\n", cfg.AdminUser, cfg.AdminPass)

	if cfg.AutoStart {
		if _, err := mon.Activate(context.Background()); err != nil {
			logger.Error("scan autostart failed", zap.Error(err))
		}
	}

	srv := &http.Server{Addr: addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt) // os.Interrupt = SIGINT; works on all platforms

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-quit:
		fmt.Println("\n  → Shutting down gracefully…")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(ctx)
	}

	// Stop the scan before closing the store so the session is closed out.
	mon.Deactivate()
	return multierr.Append(err, store.Close())
}

func corsMiddleware(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// printer writes every tick result to the terminal and counts the ones that
// produced rates.
type printer struct {
	out   io.Writer
	rated chan struct{}
}

func (p *printer) SessionStarted(id string, at time.Time) {
	fmt.Fprintf(p.out, "  ✓ Session %s started at %s\n\n", id, at.Format(time.TimeOnly))
}

func (p *printer) SessionStopped(id string, at time.Time) {
	fmt.Fprintf(p.out, "\n  → Session %s stopped at %s\n", id, at.Format(time.TimeOnly))
}

func (p *printer) TickCompleted(r monitor.Result) {
	fmt.Fprintf(p.out, "[%s] #%d %s\n", r.At.Format(time.TimeOnly), r.Seq, r.Headline)
	if r.Cumulative != nil {
		c := r.Cumulative
		fmt.Fprintf(p.out, "            total Tx %s (%s pkts) | Rx %s (%s pkts) | errs %s | drops %s\n",
			c.Sent, c.PacketsSent, c.Recv, c.PacketsRecv, c.Errors, c.Drops)
	}
	if r.Report.Rates != nil {
		select {
		case p.rated <- struct{}{}:
		default:
		}
	}
}

func runScan(ctx context.Context, cfg *config.Config, count int, out io.Writer) (err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	src, label, srcCloser, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, srcCloser.Close()) }()

	p := &printer{out: out, rated: make(chan struct{}, 1)}
	mon := monitor.New(src, traffic.NewAnalyzer(cfg.AnalyzerConfig()),
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithSourceTimeout(cfg.SourceTimeout),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithListener(p),
	)

	fmt.Fprintf(out, "  ✓ Sampling %s every %s\n", label, cfg.PollInterval)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if _, err := mon.Activate(ctx); err != nil {
		return err
	}
	defer mon.Deactivate()

	for seen := 0; count <= 0 || seen < count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case <-p.rated:
		}
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return true
		}
		if addr[i] == '/' || addr[i] == ']' {
			break
		}
	}
	return false
}
