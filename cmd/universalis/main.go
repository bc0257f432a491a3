// Command universalis runs the Telegram bot and its ops HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter/anthropic"
	"github.com/skosovsky/universalis/adapter/gemini"
	"github.com/skosovsky/universalis/adapter/ollama"
	"github.com/skosovsky/universalis/adapter/openai"
	"github.com/skosovsky/universalis/catalog"
	"github.com/skosovsky/universalis/chat"
	"github.com/skosovsky/universalis/dispatch"
	"github.com/skosovsky/universalis/internal/config"
	"github.com/skosovsky/universalis/internal/logging"
	"github.com/skosovsky/universalis/mediafetch"
	"github.com/skosovsky/universalis/opsserver"
	"github.com/skosovsky/universalis/promptfile"
	"github.com/skosovsky/universalis/sqlitestore"
	"github.com/skosovsky/universalis/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "universalis: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompts := promptfile.Default()
	if cfg.PromptDir != "" {
		if prompts, err = promptfile.Load(cfg.PromptDir); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.DBDir, 0o750); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	store, err := sqlitestore.OpenDir(ctx, cfg.DBDir,
		sqlitestore.WithDefaultSystemPrompt(prompts.System),
		sqlitestore.WithLogger(logger.Named("store")),
	)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.SeedUsers(ctx, cfg.Users()); err != nil {
		return err
	}

	fetcher := mediafetch.New()
	var (
		table    dispatch.Table
		listers  []catalog.Option
		chatOpts = []chat.Option{
			chat.WithTitlePrompt(prompts.Title),
			chat.WithLogger(logger.Named("chat")),
		}
	)
	if cfg.OpenAIKey != "" {
		c := openai.NewClient(openai.WithAPIKey(cfg.OpenAIKey), openai.WithFetcher(fetcher))
		table.OpenAI = c.Route()
		listers = append(listers, catalog.WithLister(universalis.ProviderOpenAI, c))
		chatOpts = append(chatOpts, chat.WithImageGenerator(c))
	}
	if cfg.ClaudeKey != "" {
		c := anthropic.NewClient(anthropic.WithAPIKey(cfg.ClaudeKey))
		table.Claude = c.Route()
		listers = append(listers, catalog.WithLister(universalis.ProviderClaude, c))
	}
	if cfg.GeminiKey != "" {
		c, err := gemini.NewClient(ctx, gemini.WithAPIKey(cfg.GeminiKey))
		if err != nil {
			return err
		}
		table.Google = c.Route()
		listers = append(listers, catalog.WithLister(universalis.ProviderGoogle, c))
	}
	if cfg.OllamaURL != "" {
		c, err := ollama.NewClient(cfg.OllamaURL, nil)
		if err != nil {
			return err
		}
		table.Ollama = c.Route()
		listers = append(listers, catalog.WithLister(universalis.ProviderOllama, c))
	}

	disp := dispatch.New(store, table, dispatch.WithLogger(logger.Named("dispatch")))
	models := catalog.New(append(listers, catalog.WithLogger(logger.Named("catalog")))...)
	chats := chat.New(store, disp, chatOpts...)

	bot, err := telegram.NewBot(cfg.TelegramToken, telegram.WithBotLogger(logger.Named("telegram")))
	if err != nil {
		return err
	}
	handler := telegram.NewHandler(bot, chats, store, models,
		telegram.WithBotName(cfg.BotName),
		telegram.WithAdmin(cfg.AdminID),
		telegram.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		telegram.WithPhotoFetcher(fetcher),
		telegram.WithLogger(logger.Named("handler")),
	)

	logger.Info("starting",
		zap.String("bot_name", cfg.BotName),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("openai", table.OpenAI != nil),
		zap.Bool("claude", table.Claude != nil),
		zap.Bool("google", table.Google != nil),
		zap.Bool("ollama", table.Ollama != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bot.Run(gctx, handler)
		return nil
	})
	g.Go(func() error {
		return opsserver.Run(gctx, cfg.HTTPAddr, opsserver.NewRouter(disp, store, logger.Named("ops")), logger.Named("ops"))
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
