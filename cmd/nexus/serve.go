package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/config"
	"github.com/cuemby/nexus/pkg/kvs/boltkv"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a nexus datastore",
	Long: `Start a nexus datastore process: open the on-disk KV store,
wire up the session bridge, and expose Prometheus metrics and health
endpoints.

The SQL lexer/parser and the RPC/SDK surface that would drive queries
over the wire are external collaborators (see the architecture notes);
this command opens the engine for an embedding caller rather than
listening for queries itself.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a nexus config YAML file (defaults used if omitted)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides the config file)")
	serveCmd.Flags().String("metrics-addr", "", "Metrics/health listen address (overrides the config file)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.Defaults()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	l := log.WithComponent("serve")
	l.Info().Str("data_dir", cfg.DataDir).Msg("opening datastore")

	store, err := boltkv.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	parser := unimplementedParser{}
	bridge := session.NewBridge(session.Config{
		DefaultNS: cfg.DefaultNS,
		DefaultDB: cfg.DefaultDB,
		JWTSecret: []byte(cfg.JWTSecret),
	}, store, parser)
	bridge.Exec.SlowLogThreshold = cfg.SlowQueryThreshold
	// The bridge is held open for embedding callers; queries arrive via an
	// embedding caller's own Parser, not this process.

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("bridge", true, "ready")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	errCh := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	l.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		l.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}
	return nil
}

// unimplementedParser satisfies session.Parser for a bare `nexus serve`
// invocation with no embedding caller attached; an embedding caller
// wires its own Parser into session.NewBridge directly instead of going
// through this command.
type unimplementedParser struct{}

func (unimplementedParser) Parse(sql string) ([]ast.Stmt, error) {
	return nil, fmt.Errorf("serve: no SQL parser wired into this process; embed nexus with your own session.Parser")
}
