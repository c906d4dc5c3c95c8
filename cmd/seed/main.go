package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"blogapi/internal/account"
	"blogapi/internal/config"
	"blogapi/internal/database"
	"blogapi/internal/pkg/logger"
	"blogapi/internal/post"
	"blogapi/internal/seed"
)

// main 向配置的数据库写入演示数据，演示账号已存在时不做任何修改。
func main() {
	authors := flag.Int("authors", 5, "number of fake authors")
	posts := flag.Int("posts", 4, "posts per author")
	comments := flag.Int("comments", 3, "comments per post")
	seedValue := flag.Int64("seed", 0, "random seed (0 = time based)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLogger := logger.NewDefault(cfg.App.LogLevel)

	db, err := database.Open(cfg.Database)
	if err != nil {
		appLogger.Error("open database failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		appLogger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	accounts, err := account.NewStore(db, account.WithBcryptCost(cfg.Security.BcryptCost))
	if err != nil {
		appLogger.Error("init account store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sum, err := seed.Demo(context.Background(), accounts, post.NewStore(db), appLogger, seed.Options{
		Authors:         *authors,
		PostsPerAuthor:  *posts,
		CommentsPerPost: *comments,
		Seed:            *seedValue,
	})
	if err != nil {
		appLogger.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !sum.Skipped {
		appLogger.Info("login with the demo account",
			slog.String("username", seed.DemoUsername),
			slog.String("password", seed.DemoPassword))
	}
}
