// Package app собирает checkout-service: хранилище, HTTP API, ops-серверы и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/tracing"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	serviceName       = "checkout-service"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown with error")
		}
	}()

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = deps.Close(closeCtx)
	}()

	services, err := NewServices(cfg, deps, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := newHTTPServer(cfg.HTTPAddr, services.API)
	g.Go(func() error {
		return serveHTTP(gctx, apiServer, logger.WithField("server", "api"))
	})

	metricsServer := newHTTPServer(cfg.MetricsAddr, newOpsMux(deps.Health))
	g.Go(func() error {
		return serveHTTP(gctx, metricsServer, logger.WithField("server", "metrics"))
	})

	g.Go(func() error {
		return serveGRPC(gctx, cfg.GRPCAddr, logger.WithField("server", "grpc"))
	})

	g.Go(func() error {
		services.OutboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		services.CleanupWorker.Run(gctx)
		return nil
	})

	if deps.Producer != nil {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     cfg.Brokers(),
			GroupID:     cfg.KafkaConsumerGroup,
			Topics:      []string{cfg.KafkaEventsTopic},
			MaxAttempts: cfg.OutboxMaxAttempts,
			RetryDelay:  cfg.OutboxRetryDelay,
			DLQTopic:    cfg.KafkaDLQTopic,
		}, kafka.EnvelopeHandler(services.Router.Dispatch), deps.Producer, logger.WithField("layer", "kafka-consumer"))
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka consumer, events will not be dispatched")
		} else {
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}

	logger.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.GetVersion(),
	}).Info("checkout-service started")

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// newOpsMux отдаёт метрики Prometheus и health-эндпоинты.
func newOpsMux(registry *healthcheck.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", registry)
	mux.HandleFunc("/livez", healthcheck.Live)
	mux.HandleFunc("/readyz", registry.Ready)
	return mux
}

// serveHTTP обслуживает srv до отмены ctx, затем аккуратно останавливает его.
func serveHTTP(ctx context.Context, srv *http.Server, logger *log.Entry) error {
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http server listening on %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// newGRPCServer создаёт ops-сервер: grpc.health.v1, reflection и метрики вызовов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func serveGRPC(ctx context.Context, addr string, logger *log.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server, healthServer := newGRPCServer(logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC server listening on %s", lis.Addr())
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			server.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
