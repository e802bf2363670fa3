package main

import (
	"ImagenStudio/internal/config"
	"ImagenStudio/internal/imagegen"
	"ImagenStudio/internal/logger"
	"ImagenStudio/internal/server"
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Веб-сервер Imagen Studio: страница с формой, WebSocket-сессии и JSON API генерации.
func main() {
	cfg := config.NewConfig()

	sugar, err := logger.New(cfg.DebugMode)
	if err != nil {
		panic(err)
	}
	//сброс буфера логгера
	defer func() {
		_ = sugar.Sync()
	}()

	sugar.Infow("Starting app",
		"DebugMode", cfg.DebugMode,
		"BindAddr", cfg.HTTP.BindAddr,
		"DefaultModel", cfg.ImageGen.Model(),
		"KeyPolicy", cfg.ImageGen.KeyPolicy,
	)
	if cfg.ImageGen.APIKey == "" {
		sugar.Warnw("GEMINI_API_KEY is empty; every request must carry its own API key")
	}

	opts := cfg.ImageGen.Options()
	client := imagegen.New(opts, sugar.Named("imagegen"))

	srv := server.New(cfg.HTTP, server.Deps{
		Generator:    client,
		DefaultModel: cfg.ImageGen.Model(),
		KeyPolicy:    opts.KeyPolicy,
	}, sugar.Named("server"))

	// Graceful shutdown on Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Останавливаем явно ниже, чтобы дождаться завершения shutdown до выхода из main.
	if err := srv.Start(context.Background()); err != nil {
		sugar.Errorw("Failed to start server", "addr", cfg.HTTP.BindAddr, "error", err)
		return
	}
	<-ctx.Done()

	if err := srv.Stop(context.Background()); err != nil {
		sugar.Errorw("Server shutdown failed", "error", err)
	}
	sugar.Infow("App stopped")
}
