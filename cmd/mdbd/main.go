// Command mdbd hosts a single database's CAS behind the network boundary
// described in spec.md §4.5: a TCP (optionally TLS) listener serving the
// newline-JSON request/response protocol in internal/netboundary/rpc,
// backed by an internal/diskstore.Disk and gated by an
// internal/netboundary/auth.Service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindoo/mindoo-core/internal/config"
	"github.com/mindoo/mindoo-core/internal/diskstore"
	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/metrics"
	"github.com/mindoo/mindoo-core/internal/netboundary/auth"
	"github.com/mindoo/mindoo-core/internal/netboundary/rpc"
)

var (
	configPath  string
	debugFlag   bool
	metricsFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "mdbd",
	Short: "mdbd - network boundary daemon",
	Long:  `mdbd hosts one database's content-addressed entry store behind an authenticated TCP boundary.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mdbd.toml", "path to daemon config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "export OTel metrics to stdout periodically")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print mdbd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mdbd dev")
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := logging.New(os.Stderr, debugFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := metrics.Init(metricsFlag)
	if err != nil {
		return fmt.Errorf("mdbd: init metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())

	return serveFromConfig(ctx, configPath, log)
}

// serveFromConfig loads configPath and blocks serving until ctx is
// canceled or an unrecoverable setup/listen error occurs. Split out from
// runDaemon so tests can supply a cancelable context without touching
// process signals.
func serveFromConfig(ctx context.Context, configPath string, log *logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	srv := cfg.Server
	if srv.Listen == "" {
		return fmt.Errorf("mdbd: config %s: [server] listen is required", configPath)
	}
	if srv.DBID == "" {
		return fmt.Errorf("mdbd: config %s: [server] db_id is required", configPath)
	}
	if srv.JWTSecret == "" {
		return fmt.Errorf("mdbd: config %s: [server] jwt_secret is required", configPath)
	}

	dir, err := directory.LoadFile(srv.DirectoryFile)
	if err != nil {
		return fmt.Errorf("mdbd: load directory: %w", err)
	}

	store, err := diskstore.Open(diskstore.Config{
		BaseDir:            filepath.Join(srv.BaseDir, srv.DBID),
		CompactionMinFiles: srv.CompactionMinFiles,
		CompactionMaxBytes: srv.CompactionMaxBytes,
	}, log)
	if err != nil {
		return fmt.Errorf("mdbd: open store: %w", err)
	}
	defer store.Close()

	authSvc := auth.NewService(dir, []byte(srv.JWTSecret), srv.ChallengeTTL(), srv.TokenTTL(), log)
	server := rpc.NewServer(store, authSvc, dir, srv.DBID, log)

	if srv.TLSEnabled() {
		if err := server.SetTLSConfig(srv.TLSCertFile, srv.TLSKeyFile); err != nil {
			return fmt.Errorf("mdbd: configure tls: %w", err)
		}
		log.Infof("tls enabled, cert=%s", srv.TLSCertFile)
	}

	log.Infof("mdbd serving db=%s on %s", srv.DBID, srv.Listen)
	if err := server.Serve(ctx, srv.Listen); err != nil {
		return fmt.Errorf("mdbd: serve: %w", err)
	}
	log.Infof("mdbd shut down cleanly")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
