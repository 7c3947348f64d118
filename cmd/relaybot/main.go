package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChatRelay/internal/adapter/chat/telegram"
	"ChatRelay/internal/adapter/chat/twitch"
	"ChatRelay/internal/adapter/chat/web"
	"ChatRelay/internal/ai"
	"ChatRelay/internal/app/dispatcher"
	"ChatRelay/internal/app/janitor"
	"ChatRelay/internal/config"
	"ChatRelay/internal/history"
	"ChatRelay/internal/service/relay"
	"ChatRelay/internal/service/status"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.DebugMode)
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("Starting relay bot",
		"DebugMode", cfg.DebugMode,
		"model", cfg.AI.Model,
		"window", cfg.HistoryWindow,
		"workers", cfg.MaxWorkers,
	)

	if err := run(ctx, cfg, sugar); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("Relay bot stopped with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	sugar.Infow("Relay bot stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run собирает компоненты и блокируется до отмены ctx.
// Ошибки конфигурации (промпт, токен бота) возвращаются до начала обслуживания.
func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	prompt, err := config.LoadSystemPrompt(cfg.SystemPromptPath)
	if err != nil {
		logger.Errorw("Не удалось загрузить системный промпт. Запуск бота отменен.", "path", cfg.SystemPromptPath, "error", err)
		return err
	}

	store := history.NewStore(&prompt, cfg.HistoryWindow)
	rl := relay.New(store, newCompleter(cfg, logger), logger)
	disp := dispatcher.New(rl, logger, cfg.MaxWorkers, cfg.QueueSize, relay.BusyText)

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout,
		Debug:       cfg.DebugMode,
	}, logger, rl.Greeting(), disp)
	if err != nil {
		logger.Errorw("Telegram недоступен. Запуск бота отменен.", "error", err)
		return err
	}
	return serve(ctx, cfg, store, rl, disp, bot, logger)
}

// runner — компонент, работающий до отмены ctx.
type runner interface {
	Run(ctx context.Context) error
}

// serve запускает сервер статуса, диспетчер, бота и фоновые задачи и ждёт их завершения.
func serve(ctx context.Context, cfg *config.Config, store *history.Store, rl *relay.Relay, disp *dispatcher.Dispatcher, bot runner, logger *zap.SugaredLogger) error {
	// Сервер статуса стартует первым: ошибка прослушивания порта возвращается до запуска горутин.
	// srvCtx отменяется при выходе из run, в том числе при падении группы.
	srvCtx, stopSrv := context.WithCancel(ctx)
	defer stopSrv()
	if cfg.StatusServer.Enabled {
		srv := status.New(status.Config{
			BindAddr:  cfg.StatusServer.BindAddr,
			AuthToken: cfg.StatusServer.AuthToken,
		}, statsSource{relay: rl, disp: disp}, logger)
		if cfg.StatusServer.WebChat {
			srv.Handle("/ws", web.NewHandler(srvCtx, rl.Greeting(), disp, func(id history.ConversationID) { store.Delete(id) }, logger))
		}
		if err := srv.Start(srvCtx); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return janitor.New(store, cfg.HistoryTTL, cfg.HistoryJanitorInterval, logger).Run(gctx) })
	if cfg.Twitch.Enabled() {
		// Twitch необязателен: его падение не останавливает Telegram
		g.Go(func() error {
			err := twitch.Run(gctx, logger, twitch.Config{
				Username: cfg.Twitch.Username,
				OAuth:    cfg.Twitch.OAuth,
				Channel:  cfg.Twitch.Channel,
			}, rl.Greeting(), disp)
			if err != nil && gctx.Err() == nil {
				logger.Warnw("Twitch adapter stopped", "error", err)
			}
			return nil
		})
	}

	logger.Infow("Бот запускается...")
	return g.Wait()
}

func newCompleter(cfg *config.Config, logger *zap.SugaredLogger) ai.Completer {
	if cfg.AI.Stub {
		logger.Warnw("AI stub enabled: replies are echoed, no API calls")
		return ai.NewStubClient()
	}
	oc := ai.NewOpenAIClient(cfg.AI.BaseURL, cfg.AI.AppTitle, cfg.AI.Referer, cfg.AI.RequestTimeout)
	return ai.NewCompletionClient(&oc, cfg.AI.Model, cfg.APIKey, logger)
}

type statsSource struct {
	relay *relay.Relay
	disp  *dispatcher.Dispatcher
}

func (s statsSource) Conversations() int      { return s.relay.Conversations() }
func (s statsSource) Stats() dispatcher.Stats { return s.disp.Stats() }
