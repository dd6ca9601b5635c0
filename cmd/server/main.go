package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sati-chat/internal/api/handlers"
	"sati-chat/internal/app"
	"sati-chat/internal/config"
	"sati-chat/internal/logger"
	"sati-chat/internal/notify"
	"sati-chat/internal/prefs"
	"sati-chat/internal/service/chat"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.Log.WithError(err).Fatal("Server stopped with error")
	}
}

func run() error {
	appConfig, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Log.WithField("driver", appConfig.Database.Driver).Info("Initializing database...")
	database, err := app.OpenDatabase(appConfig.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	prefStore, err := prefs.NewSQLiteStore(appConfig.Prefs.Path)
	if err != nil {
		return err
	}
	defer prefStore.Close()

	// notices raised outside a request (provider switches) only reach the log
	notices := notify.Func(func(n notify.Notice) {
		logger.Log.WithField("level", n.Level).Info(n.Message)
	})

	container, err := app.NewConfig(database, prefStore, appConfig, nil, chat.WithNotifier(notices))
	if err != nil {
		return err
	}

	mux, routes := handlers.NewRouter(container)
	server := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithField("port", appConfig.Server.Port).Info("Server starting")
		for _, route := range routes {
			logger.Log.WithFields(logrus.Fields{"route": route.Pattern, "auth": route.Auth}).Debug("Route registered")
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.WithField("timeout", appConfig.Server.ShutdownTimeout).Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
