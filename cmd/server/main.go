package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenMediaCore/internal/config"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/KevinKickass/OpenMediaCore/internal/system"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("omc-server", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	os.Exit(run(cfg, logger))
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// run returns the process exit code: 0 on a clean shutdown, the class
// code of a construction or routing failure, or 1 otherwise.
func run(cfg *config.Config, logger *zap.Logger) int {
	lifecycle, err := system.NewLifecycleManager(cfg, logger)
	if err != nil {
		logger.Error("Failed to create lifecycle manager", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lifecycle.Start(); err != nil {
		logger.Error("Failed to start system", zap.Error(err))
		shutdown(cfg, lifecycle, logger)
		return exitCode(err)
	}

	logger.Info("OpenMediaCore started successfully")

	if sig, ok := parseSignal(cfg.Serial.EOSSignal); ok {
		go func() {
			for {
				eos := serial.NotifyEndOfStream(ctx, endOfStreamFunc(lifecycle.EndOfStreamAll), sig)
				err, received := <-eos
				if !received {
					return
				}
				if err != nil {
					logger.Warn("End of stream failed", zap.Error(err))
				} else {
					logger.Info("End of stream sent", zap.String("signal", sig.String()))
				}
			}
		}()
	} else if cfg.Serial.EOSSignal != "" {
		logger.Warn("Unknown end-of-stream signal ignored", zap.String("signal", cfg.Serial.EOSSignal))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	code := 0
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-lifecycle.Errors():
		logger.Error("Composite failed, shutting down", zap.Error(err))
		code = exitCode(err)
	case <-lifecycle.Done():
		logger.Info("Shutdown requested through the API")
		return 0
	}

	if err := shutdown(cfg, lifecycle, logger); err != nil && code == 0 {
		code = 1
	}
	if code == 0 {
		logger.Info("OpenMediaCore stopped successfully")
	}
	return code
}

func shutdown(cfg *config.Config, lifecycle *system.LifecycleManager, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func exitCode(err error) int {
	var ce *pipeline.ConstructionError
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	return 1
}

type endOfStreamFunc func() error

func (f endOfStreamFunc) EndOfStream() error {
	return f()
}
