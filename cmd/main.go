package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/pkg/server"
)

func main() {
	// A missing .env is fine; it only carries optional secrets such as
	// OPENAI_API_KEY.
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to a conf.yaml overriding discovery")
	pflag.Parse()

	srv, err := server.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start server", zap.Error(err))
	}
	logger := srv.Logger()
	defer logger.Sync()

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
