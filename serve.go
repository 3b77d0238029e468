package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidcutapi/api"
	"vidcutapi/credential"
	"vidcutapi/files"
	"vidcutapi/task"
	"vidcutapi/video"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()
		return serve(a)
	},
}

func serve(a *app) error {
	log := zap.S().Named("main")
	cfg := a.cfg

	db, err := video.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("initializing data store: %w", err)
	}
	videos := video.NewStore(db)

	extractor, err := credential.NewBrowserExtractor(cfg.CookieExtractCmd, a.runner)
	if err != nil {
		return fmt.Errorf("initializing cookie extractor: %w", err)
	}
	library := files.NewLibrary(cfg.DownloadsDir, cfg.CutsDir)

	taskManager, err := task.NewManager(cfg, videos, a.runner,
		task.WithCredentials(a.creds),
		task.WithCookieExtractor(extractor),
		task.WithCleaner(library),
	)
	if err != nil {
		return fmt.Errorf("initializing task manager: %w", err)
	}

	scheduler, err := credential.NewScheduler(a.creds, cfg.RefreshAt, cfg.RefreshPoll)
	if err != nil {
		return fmt.Errorf("initializing refresh scheduler: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(taskManager, a.creds, library, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)
	scheduler.Start(ctx)
	if cfg.RefreshOnStart {
		a.creds.RefreshAllAsync()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		taskManager.Shutdown()
		return fmt.Errorf("listen: %w", err)
	}

	stop()
	log.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	taskManager.Shutdown()
	<-scheduler.Done()

	log.Info("server exiting")
	return nil
}
