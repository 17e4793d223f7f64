package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logrus.SetLevel(cfg.Level())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	messages, err := store.Open(cfg.StoreConfig())
	if err != nil {
		logrus.WithError(err).Fatal("failed to open message store")
	}

	registry := server.NewRegistry()
	srv := server.NewServer(cfg, registry, messages)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(srv))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logrus.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server failed")
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	registry.CloseAll()
}
