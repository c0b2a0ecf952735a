package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samandartukhtayev/ecommerce-sharding/api"
	"github.com/samandartukhtayev/ecommerce-sharding/api/health"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
)

func main() {
	var (
		serviceName string
		configPath  string
	)
	flag.StringVar(&serviceName, "service", "", "service to run: auth, users, products or categories")
	flag.StringVar(&configPath, "config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if serviceName != "" {
		cfg.App.Name = serviceName + "-service"
	}

	if err := logger.Init(&cfg.Log, cfg.App.Env); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, serviceName, cfg); err != nil {
		logger.Error("Service exited with error", zap.String("service", serviceName), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, serviceName string, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	log := logger.With(zap.String("service", serviceName))

	var (
		svc *service
		err error
	)
	switch serviceName {
	case "auth":
		svc, err = buildAuth(ctx, cfg, log, m)
	case "users":
		svc, err = buildUsers(ctx, cfg, log, m)
	case "products":
		svc, err = buildProducts(cfg, log, m)
	case "categories":
		svc, err = buildCategories(cfg, log)
	default:
		return fmt.Errorf("unknown service %q, expected auth, users, products or categories", serviceName)
	}
	if err != nil {
		return err
	}
	defer svc.close(log)

	router := api.NewRouter(cfg, health.NewController(cfg, svc.checks), reg)
	router.SetupRoutes(svc.controllers...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var lis net.Listener
	if svc.grpc != nil {
		lis, err = net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port %s: %w", cfg.Server.GRPCPort, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if svc.grpc != nil {
		g.Go(func() error {
			log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
			return svc.grpc.Serve(lis)
		})
	}

	for _, bg := range svc.background {
		g.Go(func() error { return bg(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if svc.grpc != nil {
			svc.grpc.GracefulStop()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
