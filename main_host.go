package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ember/app"
	"ember/hal"
	"ember/internal/buildinfo"
	"ember/internal/config"
	"ember/internal/klog"
	"ember/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path    string
		version bool
		ov      config.HostConfig
	)
	flag.StringVar(&path, "config", "", "TOML configuration file.")
	flag.BoolVar(&version, "version", false, "Print the build and exit.")
	flag.BoolVar(&ov.Headless, "headless", false, "Run without a window.")
	flag.IntVar(&ov.Hz, "hz", 0, "Host step rate (overrides the config).")
	flag.Uint64Var(&ov.Ticks, "ticks", 0, "Stop a headless run after N steps (0 = run forever).")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.String())
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if ov.Headless {
		cfg.Host.Headless = true
	}
	if ov.Hz > 0 {
		cfg.Host.Hz = ov.Hz
	}
	if ov.Ticks > 0 {
		cfg.Host.Ticks = ov.Ticks
	}

	log, err := klog.New(klog.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := app.Options{Config: cfg, Logger: log}
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registry = reg
	}

	var sys *app.System
	newApp := app.StepFunc(opts, func(s *app.System) { sys = s })
	defer func() {
		if sys != nil {
			sys.Close()
		}
	}()

	host := hal.HostConfig{Width: cfg.Host.Width, Height: cfg.Host.Height}
	if !cfg.Host.Headless {
		err := hal.RunWindow(newApp, hal.WindowConfig{
			Host:  host,
			Title: "Ember " + buildinfo.Short(),
			Scale: cfg.Host.Scale,
		})
		if errors.Is(err, app.ErrHalted) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		err := hal.RunHeadless(ctx, newApp, hal.HeadlessConfig{Host: host, Hz: cfg.Host.Hz, Ticks: cfg.Host.Ticks})
		if errors.Is(err, app.ErrHalted) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return mux
}
