package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stockyard-live/livebid/livebid"
	"github.com/stockyard-live/livebid/livebid/database"
	"github.com/stockyard-live/livebid/livebid/database/repositories"
	"github.com/stockyard-live/livebid/livebid/engine"
	"github.com/stockyard-live/livebid/livebid/logger"
	"github.com/stockyard-live/livebid/livebid/web"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := livebid.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(logger.New("livebid", cfg.Log.Level, cfg.Log.Format)))
	slog.Info("Starting livebid bidding engine",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitializeTables(ctx); err != nil {
		slog.Error("Failed to initialize tables", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Database connected", slog.String("database", cfg.DB.Database))

	auctionRepo := repositories.NewAuctionRepository(db.BunDB())
	bidRepo := repositories.NewBidRepository(db.BunDB())
	autoBidRepo := repositories.NewAutoBidRepository(db.BunDB())

	notifier := engine.NewNotifier(256, engine.LogSink{})
	projector, err := engine.NewProjector(auctionRepo, bidRepo, engine.SystemClock, 4096, time.Second)
	if err != nil {
		slog.Error("Failed to create projector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eng := engine.New(auctionRepo, bidRepo, autoBidRepo, notifier, projector, engine.SystemClock, engine.Settings{
		DefaultMinIncrement: cfg.Auction.DefaultMinIncrement,
		SnipingWindow:       cfg.Auction.SnipingWindow(),
		Extension:           cfg.Auction.Extension(),
		BidQueueSize:        cfg.Auction.BidQueueSize,
		BidQueueTimeout:     cfg.Auction.BidQueueTimeout,
	})

	sweeper := engine.NewSweeper(eng, cfg.Auction.SweepInterval, 100)
	if err := sweeper.RunOnce(ctx); err != nil {
		// Recoverable; the periodic sweep retries.
		slog.Error("Startup finalization sweep failed", slog.String("error", err.Error()))
	}
	sweeper.Start()

	app := fiber.New(fiber.Config{
		AppName:      "livebid",
		ServerHeader: "livebid",
	})
	app.Use(recover.New())
	app.Use(web.SecurityHeaders())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.AllowOrigins}))
	app.Use(web.RequestLogger())

	web.NewHandler(eng, engine.SystemClock).Register(app)

	go func() {
		if err := app.Listen(cfg.Server.Addr); err != nil {
			slog.Error("HTTP server stopped", slog.String("error", err.Error()))
		}
	}()
	slog.Info("Bidding API listening", slog.String("addr", cfg.Server.Addr))

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down")
	if err := app.Shutdown(); err != nil {
		slog.Error("HTTP shutdown failed", slog.String("error", err.Error()))
	}
	sweeper.Shutdown()
	eng.Shutdown()
	notifier.Shutdown()
}
