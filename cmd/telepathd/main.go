// Command telepathd runs the telepath ephemeral messaging core as an HTTP
// service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/telepath-im/telepath/config"
	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/delivery"
	"github.com/telepath-im/telepath/httpapi"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
	"github.com/telepath-im/telepath/storage"
)

// backend is the full persistence contract the daemon wires together.
type backend interface {
	registry.Store
	queue.Store
	contact.Store
	registry.Directory
	httpapi.UserRegistrar
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Configuration load failed")
	}
	setupLogging(cfg.Logging)

	store, closeStore, err := openBackend(cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("Storage open failed")
	}
	defer closeStore()

	reg := registry.New(store, store, cfg.Storage.OpTimeout)
	q := queue.New(store, cfg.Storage.OpTimeout)
	linker := contact.New(store, store, cfg.Storage.OpTimeout)
	proto := delivery.New(reg, q)

	api := httpapi.New(reg, linker, proto, store, cfg.Resolve.RPS, cfg.Resolve.Burst)

	srv := &fasthttp.Server{
		Handler:      api.Handler,
		Name:         "telepathd",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stopSweep := make(chan struct{})
	go sweepLoop(q, cfg.Queue, stopSweep)

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"address": cfg.ListenAddr(),
			"driver":  cfg.Storage.Driver,
		}).Info("telepathd listening")
		errCh <- srv.ListenAndServe(cfg.ListenAddr())
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logrus.WithError(err).Error("Server exited")
		}
	case s := <-sig:
		logrus.WithField("signal", s.String()).Info("Shutting down")
		close(stopSweep)
		if err := srv.Shutdown(); err != nil {
			logrus.WithError(err).Error("Shutdown failed")
		}
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func openBackend(cfg config.StorageConfig) (backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemory(), func() {}, nil
	default:
		p, err := storage.OpenPebble(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logrus.WithError(err).Error("Pebble close failed")
			}
		}, nil
	}
}

// sweepLoop periodically reclaims delivered-but-unacknowledged messages.
func sweepLoop(q *queue.Queue, cfg config.QueueConfig, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := q.SweepDelivered(context.Background(), cfg.DeliveredTTL); err != nil {
				logrus.WithError(err).Warn("Delivered-message sweep failed")
			}
		}
	}
}
