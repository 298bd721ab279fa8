// Package main is the entry point for pdbp.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/opposj/pdbp/internal/config"
	"github.com/opposj/pdbp/internal/debugger"
	"github.com/opposj/pdbp/internal/engine/dap"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
	"github.com/opposj/pdbp/internal/stream"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds the disconnect and metrics server shutdown.
const shutdownTimeout = 3 * time.Second

type options struct {
	configPath string
	adapter    string
	addr       string
	program    string
	logLevel   string
	args       []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}
	opts.apply(cfg)
	if cfg.Engine.Adapter == "" && cfg.Engine.Addr == "" {
		fmt.Fprintf(os.Stderr, "Error: no debug adapter: use -adapter or -addr\n")
		return 1
	}

	log, err := logging.New(cfg.Logging.LoggingOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	logging.SetGlobal(log)

	m := metrics.New(prometheus.DefaultRegisterer)

	hub := stream.NewProcessHub(log)
	if err := hub.Install(); err != nil {
		log.Error("installing stream proxies", "error", err)
		return 1
	}
	defer hub.Restore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := connect(ctx, cfg.Engine, hub)
	if err != nil {
		log.Error("connecting to debug adapter", "error", err)
		return 1
	}
	eng := dap.New(dap.NewClient(transport, log), dap.Options{
		AdapterID: adapterID(cfg.Engine),
		Log:       log,
		Stdout:    hub.Stdout(),
		Stderr:    hub.Stderr(),
	})
	defer func() { _ = eng.Close() }()

	d, err := debugger.New(debugger.Options{
		Config:  cfg,
		Engine:  eng,
		Hub:     hub,
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		log.Error("creating debugger", "error", err)
		return 1
	}

	request, launchArgs, err := dap.LaunchArguments(cfg.Engine.Launch, cfg.Engine.Program, cfg.Engine.Args, cfg.Engine.StopOnEntry)
	if err != nil {
		log.Error("preparing launch", "error", err)
		return 1
	}
	if err := eng.Start(ctx, request, launchArgs); err != nil {
		log.Error("starting debug session", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return eng.Serve(gctx, d)
	})

	// Closing the session terminals unblocks threads still at a prompt.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-eng.Terminated():
		}
		d.Shutdown()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr, log)
	}

	if path := watchPath(opts.configPath); path != "" {
		w, err := config.NewWatcher(path, cfg, log, m)
		if err != nil {
			log.Warn("config reload disabled", "path", path, "error", err)
		} else {
			w.Subscribe(d.ApplyConfig)
			w.Subscribe(func(c *config.Config) { log.SetLevel(logging.ParseLevel(c.Logging.Level)) })
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()

	dctx, dcancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer dcancel()
	if derr := eng.Disconnect(dctx, true); derr != nil {
		log.Debug("disconnecting from adapter", "error", derr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("debug session failed", "error", err)
		return 1
	}
	return 0
}

func (o options) apply(cfg *config.Config) {
	if o.adapter != "" {
		cfg.Engine.Adapter = o.adapter
	}
	if o.addr != "" {
		cfg.Engine.Addr = o.addr
	}
	if o.program != "" {
		cfg.Engine.Program = o.program
	}
	if len(o.args) > 0 {
		cfg.Engine.Args = o.args
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
}

// connect reaches the adapter at addr, or starts the adapter command.
func connect(ctx context.Context, ec config.EngineConfig, hub *stream.Hub) (dap.Transport, error) {
	if ec.Addr != "" {
		return dap.Dial(ctx, ec.Addr)
	}
	return dap.Spawn(ctx, strings.Fields(ec.Adapter), hub.Pristine(stream.Stderr))
}

func adapterID(ec config.EngineConfig) string {
	if fields := strings.Fields(ec.Adapter); len(fields) > 0 {
		return filepath.Base(fields[0])
	}
	return "pdbp"
}

// watchPath returns the configuration file to watch, if there is one.
func watchPath(explicit string) string {
	path := explicit
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.adapter, "adapter", "", "Debug adapter command line")
	flag.StringVar(&opts.addr, "addr", "", "Address of a running debug adapter")
	flag.StringVar(&opts.program, "program", "", "Program to debug")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pdbp - per-thread terminal debugger\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pdbp [options] [-- program args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pdbp -adapter 'python -m debugpy.adapter' -program app.py\n")
		fmt.Fprintf(os.Stderr, "  pdbp -addr localhost:5678 -program app.py -- --verbose\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("pdbp %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	opts.args = flag.Args()
	return opts
}
