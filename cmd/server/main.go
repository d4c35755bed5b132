package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/handlers"
	"mediasub/internal/logging"
	"mediasub/internal/queue"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	log := logging.New("server")

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

	api := handlers.New(store, c, dispatcher, cfg, log)
	router := mux.NewRouter()
	api.Routes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("commit", CommitSHA).Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("server stopped")
}
