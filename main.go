package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"post_worker/adapter/in/worker"
	"post_worker/config"
	"post_worker/internal/bootstrap"
	"post_worker/pkg/logger"
	"post_worker/pkg/ratelimit"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "run", "Run mode: run, schedule, heal-history")
	numPosts := flag.Int("n", 0, "Number of posts to request (overrides N_POSTS)")
	categories := flag.String("categories", "", "Comma separated categories to generate (overrides rotation)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if *numPosts > 0 {
		cfg.NumPosts = *numPosts
	}
	if *categories != "" {
		cfg.ForcedCategories = splitList(*categories)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "post_worker",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := bootstrap.NewRunner(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "run":
		if _, err := runner.Run(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrLocked) {
				logger.Info("Another run is in progress, nothing to do")
				return
			}
			cleanup()
			os.Exit(1)
		}
	case "schedule":
		run := func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		}
		worker.NewScheduler(run, cfg.RunInterval, cfg.RunTimeout, logger.Named("scheduler")).Run(ctx)
	case "heal-history":
		n, err := runner.HealHistory(ctx)
		if err != nil {
			logger.Error("History heal failed: %v", err)
			cleanup()
			os.Exit(1)
		}
		logger.Info("History heal rewrote %d records", n)
	default:
		cleanup()
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
