// Command zss-pong runs the PING service: every PING is answered with PONG.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zss/config"
	"zss/loadbalance"
	"zss/message"
	"zss/observability"
	"zss/registry"
	"zss/router"
	"zss/service"
)

func main() {
	cfg, err := config.Load()
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.WithField("config", cfg.String()).Info("configuration loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		logger.WithError(err).Fatal("failed to register metrics")
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	}
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to etcd")
		}
		defer etcd.Close()
		opts = append(opts, service.WithRegistry(etcd, loadbalance.NewConsistentHashBalancer()))
	}

	svc := service.New("ping", cfg, opts...)
	err = svc.AddRoute("ping", router.HandlerFunc(func(ctx context.Context, payload any, headers message.Values) (any, error) {
		return "PONG", nil
	}))
	if err != nil {
		logger.WithError(err).Fatal("failed to add route")
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("service stopped with error")
		os.Exit(1)
	}
}
