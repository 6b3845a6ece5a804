package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/faceproof/liveness"
	"github.com/faceproof/liveness/logger"
	"github.com/faceproof/liveness/server"
)

var (
	logDir   = flag.String("logs", "./storage/logs", "Directory of the rotating log files")
	timeout  = flag.Duration("timeout", 30*time.Second, "Maximum time spent analyzing a single image")
	shutdown = flag.Duration("shutdown", 10*time.Second, "Graceful shutdown period")
)

func main() {
	flag.Parse()

	cfg, err := liveness.ConfigFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(logger.Options{Level: cfg.LogLevel, Dir: *logDir})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	if lg.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, err := liveness.NewEngine(cfg, liveness.WithLogger(lg))
	if err != nil {
		lg.WithError(err).Fatal("unable to load the liveness model")
	}
	pipeline := &liveness.Pipeline{Engine: engine}
	if cfg.CascadePath != "" {
		if pipeline.Detector, err = liveness.NewFaceDetector(cfg.CascadePath); err != nil {
			lg.WithError(err).Fatal("unable to load the face cascade")
		}
	} else {
		lg.Warn("no face cascade configured, uploads are analyzed as aligned face crops")
	}

	srv := server.New(pipeline, server.WithLogger(lg), server.WithTimeout(*timeout)).HTTPServer(cfg.Addr)

	go func() {
		lg.WithField("addr", cfg.Addr).Info("liveness server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), *shutdown)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.WithError(err).Error("forced shutdown")
	}
}
