package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/wms-pda/internal/bot"
	"github.com/Spok95/wms-pda/internal/config"
	"github.com/Spok95/wms-pda/internal/dialog"
	"github.com/Spok95/wms-pda/internal/domain/dict"
	"github.com/Spok95/wms-pda/internal/domain/location"
	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/backend"
	"github.com/Spok95/wms-pda/internal/infra/db"
	httpx "github.com/Spok95/wms-pda/internal/infra/http"
	"github.com/Spok95/wms-pda/internal/infra/idgen"
	"github.com/Spok95/wms-pda/internal/infra/logger"
	"github.com/Spok95/wms-pda/internal/journal"
	"github.com/Spok95/wms-pda/internal/scan"
	"github.com/Spok95/wms-pda/internal/session"
	"github.com/Spok95/wms-pda/internal/terminal"
	"github.com/Spok95/wms-pda/migrations"
)

func main() {
	cfgPath := flag.String("config", "config/example.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err) // no logger yet
	}

	log := logger.New(cfg.App.Env, cfg.App.TerminalID)
	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("terminal stopped", "err", err)
		os.Exit(1)
	}
	log.Info("graceful shutdown complete")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// node id keeps journal ids unique across terminals sharing one database
	ids, err := idgen.New(cfg.App.NodeID)
	if err != nil {
		return err
	}

	// 1) backend client
	base, err := cfg.BaseURL()
	if err != nil {
		return err
	}
	cc := backend.ClientContext{BaseURL: base, Token: cfg.Auth.Token, Operator: cfg.App.Operator}
	client, err := backend.New(cc,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
		backend.WithLogger(log),
		backend.WithRequestIDs(ids),
		backend.WithPaths(cfg.Paths()),
	)
	if err != nil {
		return err
	}
	log.Info("backend configured", "base_url", base)

	// 2) per-order session and terminal options; storage and telegram add to them
	sessOpts := []session.Option{
		session.WithQueueSize(cfg.Session.QueueSize),
		session.WithWriteTimeout(cfg.Session.WriteTimeout),
		session.WithRejudgeLimit(cfg.Session.RejudgeLimit),
	}
	termOpts := []terminal.Option{
		terminal.WithLogger(log),
		terminal.WithNames(dict.NewResolver(client, log)),
	}

	// 3) postgres is optional: without it the terminal runs fully in memory
	var history *journal.Repo
	if cfg.Postgres.DSN != "" {
		if err := db.Migrate(cfg.Postgres.DSN, migrations.FS, migrations.Dir); err != nil {
			return err
		}
		log.Info("migrations applied")

		pool, err := db.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		log.Info("db connected")

		history = journal.NewRepo(pool, ids, cfg.App.TerminalID)
		sessOpts = append(sessOpts, session.WithRecorder(history))
		termOpts = append(termOpts,
			terminal.WithHistory(history),
			terminal.WithStore(dialog.NewRepo(pool)),
		)
	} else {
		log.Warn("postgres.dsn is empty, journal and terminal state are not persisted")
	}

	// 4) supervisor bot, only when a token is configured
	var tg *bot.Bot
	if cfg.Telegram.Token != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		var opts []bot.Option
		if history != nil {
			opts = append(opts, bot.WithHistory(history))
		}
		tg = bot.New(api, log, cfg.Telegram.AdminChatID, cfg.App.TerminalID, opts...)
		sessOpts = append(sessOpts, session.WithNotifier(tg))
		termOpts = append(termOpts, terminal.WithDocuments(tg))
		log.Info("telegram notifications enabled", "admin_chat_id", cfg.Telegram.AdminChatID)
	}

	// 5) the terminal itself
	termOpts = append(termOpts, terminal.WithSessionOptions(sessOpts...))
	term := terminal.New(
		terminal.Settings{TerminalID: cfg.App.TerminalID, Operator: cfg.App.Operator, ExportDir: cfg.Export.Dir},
		func(k order.Kind) terminal.Orders { return client.Orders(k, cfg.EndpointsFor(k)) },
		location.NewPicker(client, log),
		scan.NewNormalizer(scan.Policy{Prefix: cfg.Scan.Prefix, Suffix: cfg.Scan.Suffix, Debounce: cfg.Debounce()}),
		os.Stdout,
		termOpts...,
	)

	if tg != nil {
		// the bot needs the terminal for /status, the terminal needs the bot for exports
		bot.WithStatus(term.Status)(tg)
		go func() {
			if err := tg.Run(ctx, 30); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("telegram bot stopped", "err", err)
			}
		}()
	}

	// 6) health, status and metrics
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, term.Status)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// blocks until :quit, EOF on stdin or a signal
	return term.Run(ctx, os.Stdin)
}
