package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/consumer"
	"mediasub/internal/db"
	"mediasub/internal/extractor"
	"mediasub/internal/httpclient"
	"mediasub/internal/logging"
	"mediasub/internal/pipeline"
	"mediasub/internal/queue"

	"golang.org/x/time/rate"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	log := logging.New("worker")

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
	platforms := buildPlatforms(log, fetch)

	h := pipeline.NewHandler(store, c, dispatcher, platforms, cfg, log)

	reg := consumer.NewRegistry(q, store, log, cfg.PopTimeout)
	for _, domain := range platforms.Domains() {
		reg.Register(queue.ExtractQueue(domain, false), h.HandleExtract, cfg.ExtractConcurrency)
		reg.Register(queue.ExtractQueue(domain, true), h.HandleExtract, 1)
	}
	reg.Register(queue.DownloadQueue(false), h.HandleDownload, cfg.DownloadConcurrency)
	reg.Register(queue.DownloadQueue(true), h.HandleDownload, 1)
	reg.Register(queue.QueueSubscribe, h.HandleSubscribe, 1)
	reg.Register(queue.QueueVideoProgress, h.HandleProgress, 1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("commit", CommitSHA).Msg("worker starting")
	reg.Run(ctx)
	log.Info().Msg("worker stopped")
}

// buildPlatforms is the static platform registry: yt-dlp carries every
// site it understands, podcast feeds go over plain HTTP.
func buildPlatforms(log zerolog.Logger, fetch *httpclient.Client) *extractor.Registry {
	platforms := extractor.NewRegistry()
	ytdlp := extractor.NewYtDlp(log)
	platforms.Register(extractor.DomainYouTube, ytdlp)
	platforms.Register(extractor.DomainBilibili, ytdlp)
	platforms.Register(extractor.DomainPornhub, ytdlp)
	platforms.Register(extractor.DomainJavdb, ytdlp)
	platforms.Register(extractor.DomainPodcast, extractor.NewPodcastFeed(fetch))
	return platforms
}
