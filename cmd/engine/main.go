package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/feed"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/gateway"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/logger"
	"github.com/vmelnik/intraday_position_engine/internal/infrastructure/storage"
	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"github.com/vmelnik/intraday_position_engine/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Feed struct {
		WSEndpoint string `yaml:"ws_endpoint"`
		Symbol     string `yaml:"symbol"`
	} `yaml:"feed"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Engine usecase.Config `yaml:"engine"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	broker := gateway.NewPaperGateway(log)

	engine, err := usecase.NewEngine(cfg.Engine, store, store, store, broker, log)
	if err != nil {
		log.Fatal("Failed to init engine", zap.Error(err))
	}

	broker.OnFill(engine.OnOrderFilled)
	broker.OnReject(engine.OnOrderRejectedOrCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	priceFeed := feed.NewWSFeed(cfg.Feed.WSEndpoint, cfg.Feed.Symbol, log)
	priceFeed.OnTick(func(price float64, ts time.Time) {
		broker.SetPrice(price)
		engine.OnTick(price, ts)
	})
	go priceFeed.Run(ctx)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, engine, store, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown error", zap.Error(err))
	}

	engine.Stop()
	log.Info("Shutdown complete")
}
