package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/extractor"
	"mediasub/internal/httpclient"
	"mediasub/internal/logging"
	"mediasub/internal/queue"
	"mediasub/internal/recon"

	"golang.org/x/time/rate"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	log := logging.New("scheduler")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	store := db.NewStore(conn)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	c := cache.New(rdb, cfg.DedupTTL)
	q := queue.New(rdb)
	dispatcher := queue.NewDispatcher(q, store, log)

	fetch := httpclient.New(cfg.HTTPTimeout, rate.Limit(cfg.DomainRate), cfg.DomainBurst, cfg.FetchRetries, cfg.RequestBackoff)
	platforms := extractor.NewRegistry()
	ytdlp := extractor.NewYtDlp(log)
	platforms.Register(extractor.DomainYouTube, ytdlp)
	platforms.Register(extractor.DomainBilibili, ytdlp)
	platforms.Register(extractor.DomainPornhub, ytdlp)
	platforms.Register(extractor.DomainJavdb, ytdlp)
	platforms.Register(extractor.DomainPodcast, extractor.NewPodcastFeed(fetch))

	sweeper := recon.NewSweeper(store, c, dispatcher, platforms, cfg, log)

	runner := cron.New()
	if err := sweeper.Schedule(runner); err != nil {
		log.Fatal().Err(err).Msg("failed to register sweeps")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("commit", CommitSHA).Msg("scheduler starting")
	runner.Start()
	<-ctx.Done()

	stopCtx := runner.Stop()
	<-stopCtx.Done()
	log.Info().Msg("scheduler stopped")
}
