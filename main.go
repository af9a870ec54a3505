package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/bayleafwalker/bindery-workspace/internal/config"
	"github.com/bayleafwalker/bindery-workspace/internal/publish"
	"github.com/bayleafwalker/bindery-workspace/internal/workspace"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var configPath string
	var metricsAddr string
	var probeAddr string
	var grpcAddr string

	flag.StringVar(&configPath, "config", config.FileName, "Path to the workspace configuration file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metric endpoint binds to. Overrides the config file.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", "", "The address the probe endpoint binds to. Overrides the config file.")
	flag.StringVar(&grpcAddr, "grpc-bind-address", "", "The address the gRPC health service binds to. Overrides the config file.")

	opts := zap.Options{Development: true, TimeEncoder: zapcore.ISO8601TimeEncoder}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load config", "path", configPath)
		os.Exit(1)
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if probeAddr != "" {
		cfg.Server.ProbeAddr = probeAddr
	}
	if grpcAddr != "" {
		cfg.Server.GRPCAddr = grpcAddr
	}

	ctx := log.IntoContext(ctrl.SetupSignalHandler(), ctrl.Log)
	if err := run(ctx, cfg); err != nil {
		setupLog.Error(err, "problem running workspace daemon")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ws, err := workspace.Open(ctx, cfg, ctrl.Log.WithName("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()

	if cfg.NATS.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		publisher, err := publish.NewNATSPublisher(dialCtx, cfg.NATS.URL)
		cancel()
		if err != nil {
			return err
		}
		defer publisher.Close()
		defer ws.Manager.AddListener(publish.NewEventListener(publisher, cfg.NATS.Subject))()
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	var ready atomic.Bool
	readyCheck := func(*http.Request) error {
		if !ready.Load() {
			return errors.New("initial scan not finished")
		}
		return nil
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	probeMux := http.NewServeMux()
	mountChecks(probeMux, "/healthz", map[string]healthz.Checker{"ping": healthz.Ping})
	mountChecks(probeMux, "/readyz", map[string]healthz.Checker{"workspace": readyCheck})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serveHTTP(gctx, cfg.Server.MetricsAddr, metricsMux) })
	g.Go(func() error { return serveHTTP(gctx, cfg.Server.ProbeAddr, probeMux) })
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			<-gctx.Done()
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
		}()
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		watcher, err := ws.Watch(gctx)
		if err != nil {
			return err
		}
		defer watcher.Stop()

		setupLog.Info("scanning workspace", "root", cfg.Root)
		if err := ws.Sync(gctx, false); err != nil {
			return err
		}
		setupLog.Info("workspace ready", "modules", ws.Manager.Snapshot().Len(), "generation", ws.Manager.Generation())
		ready.Store(true)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		return ws.Job.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func mountChecks(mux *http.ServeMux, prefix string, checks map[string]healthz.Checker) {
	h := http.StripPrefix(prefix, &healthz.Handler{Checks: checks})
	mux.Handle(prefix, h)
	mux.Handle(prefix+"/", h)
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" || addr == "0" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
