package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// setupLogger настраивает формат, уровень и вывод логов.
// С log_file логи пишутся и в stdout, и в ротируемый файл.
func setupLogger(cfg app.Config, stdout io.Writer) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if cfg.LogFile == "" {
		log.SetOutput(stdout)
		return noopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(stdout, rotator))
	return rotator, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func main() {
	configFile := flag.String("config", "", "path to config file (fallback: CHECKOUT_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := app.LoadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	closer, err := setupLogger(cfg, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("starting checkout-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("checkout-service stopped with error")
		closer.Close()
		os.Exit(1)
	}

	log.Info("checkout-service stopped")
}
