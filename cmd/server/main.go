package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cocursor/contextengine/internal/infrastructure/config"
	applog "github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/singleton"
	"github.com/cocursor/contextengine/internal/wire"
)

func main() {
	applog.Init(nil)
	logger := applog.GetLogger()

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 单例锁检查：同名实例已在运行时直接退出
	listener, err := singleton.CheckAndLock(cfg.Server.HTTPPort, applog.ServiceName)
	if err != nil {
		logger.Error("Singleton check failed", "port", cfg.Server.HTTPPort, "error", err)
		os.Exit(1)
	}
	if listener == nil {
		logger.Info("Another instance is already running, exiting", "port", cfg.Server.HTTPPort)
		os.Exit(0)
	}
	// 实际监听由 HTTP 服务器负责
	_ = listener.Close()

	app, cleanup, err := wire.InitializeAll()
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Start(); err != nil {
		logger.Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down application...")
	if err := app.Stop(); err != nil {
		logger.Error("Error during application shutdown", "error", err)
	}
	logger.Info("Application stopped")
}
