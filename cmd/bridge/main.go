package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/telemetry"
	"github.com/wippyai/wasm-bridge/web"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML config file")
		listen      = flag.String("listen", "", "Listen address (host:port)")
		module      = flag.String("module", "", "Path to guest wasm module")
		workers     = flag.Int("workers", 0, "Number of guest workers")
		interactive = flag.Bool("i", false, "Interactive inspector with TUI")
	)
	flag.Parse()

	cfg, err := config.Read(*configFile)
	if err == nil {
		applyFlags(cfg, *listen, *module, *workers)
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: bridge -module <guest.wasm> [-listen host:port] [-workers n] [-config file.yaml]")
		fmt.Fprintln(os.Stderr, "       bridge -module <guest.wasm> -i  (interactive inspector)")
		os.Exit(1)
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
		os.Exit(1)
	}

	if err := run(cfg, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, listen, module string, workers int) {
	if listen != "" {
		cfg.Listen = listen
	}
	if module != "" {
		cfg.Module = module
	}
	if workers > 0 {
		cfg.Workers = workers
	}
}

func run(cfg *config.Config, interactive bool) error {
	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	// The inspector owns the terminal.
	if interactive {
		log = zap.NewNop()
	}
	defer log.Sync() //nolint:errcheck
	bridge.SetLogger(log.Named("bridge"))
	engine.SetLogger(log.Named("engine"))
	host.SetLogger(log.Named("host"))
	web.SetLogger(log.Named("web"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, os.Stderr)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	pool, err := host.Load(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Module, err)
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: web.New(pool, web.Options{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			StaticPrefix:      cfg.Static.Prefix,
			StaticDir:         cfg.Static.Dir,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", "http://"+cfg.Listen), zap.Int("workers", pool.Workers()))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if interactive {
		go func() {
			if err := runInspector(ctx, cfg, pool); err != nil {
				log.Error("inspector failed", zap.Error(err))
			}
			cancel()
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	log.Info("shutting down")
	errs := []error{err}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", serr))
	}
	if perr := pool.Close(shutdownCtx); perr != nil {
		errs = append(errs, fmt.Errorf("close workers: %w", perr))
	}
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", terr))
	}
	return stderrors.Join(errs...)
}
