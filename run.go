package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/extract"
	"github.com/fastdl4u/fastdl/fetch"
	"github.com/fastdl4u/fastdl/logger"
	"github.com/fastdl4u/fastdl/media"
	"github.com/fastdl4u/fastdl/metrics"
	"github.com/fastdl4u/fastdl/module"
	"github.com/fastdl4u/fastdl/server"
	"github.com/fastdl4u/fastdl/stat"
	"github.com/fastdl4u/fastdl/upload"
	"github.com/fastdl4u/fastdl/util/zjson"
)

// Temp files older than this are leftovers of a crash.
const staleAfter = 6 * time.Hour

func openCatalog(cfg *bot.Config) (*catalog.Store, error) {
	switch cfg.CatalogBackend {
	case "memory":
		return catalog.New(), nil
	case "badger":
		p, err := catalog.OpenBadger(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		store, err := catalog.Open(p)
		if err != nil {
			p.Close()
			return nil, err
		}
		return store, nil
	default:
		return catalog.Open(catalog.NewJSONFile(cfg.CatalogPath))
	}
}

// sweep removes entries of dir not modified for olderThan.
func sweep(dir string, olderThan time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("sweep failed")
		return 0
	}
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < olderThan {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("stale file not removed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", dir).Msg("swept stale downloads")
	}
	return removed
}

func run(envFile string) error {
	cfg, err := bot.LoadConfig(envFile)
	if err != nil {
		return fmt.Errorf("config read failed: %w", err)
	}
	logger.Init(cfg.Env)
	cfg.Log()

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return err
	}

	store, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	metrics.WatchCatalog(store)

	defer func() {
		// In case of crash we want a copy of the catalog, so an operator
		// can restore it manually without losing too much data.
		if r := recover(); r != nil {
			path := cfg.CatalogPath + ".panicked.json"
			if err := zjson.Store(path, store.Snapshot()); err != nil {
				log.Error().Err(err).Msg("catalog dump failed")
			}
			// Now we can panic again
			panic(r)
		}
	}()

	tg, err := bot.NewTelegram(cfg.Token)
	if err != nil {
		store.Close()
		return fmt.Errorf("authorization failed: %w", err)
	}
	log.Info().Str("account", tg.API.Self.UserName).Msg("authorized")
	b := bot.New(tg, cfg)

	uploader := upload.NewClient(cfg.GofileAPI, cfg.GofileToken, cfg.GofileFolders)
	extractor := extract.NewService(cfg.SupportedHosts, cfg.LockerHosts,
		&extract.YtDlp{Binary: cfg.YtdlpPath, Dir: cfg.DownloadDir, MaxFileSize: cfg.MaxFileSize},
		extract.NewLocker(cfg.DownloadDir, cfg.MaxFileSize),
	)

	// Let's register our handlers.
	registry := module.NewRegistry()
	registry.InitModules(
		&module.Help{},
		&stat.Stat{Store: store},
		media.New(store, uploader),
		fetch.New(extractor, uploader),
	)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() { sweep(cfg.DownloadDir, staleAfter) }); err != nil {
		store.Close()
		return err
	}
	sweeper.Start()

	var (
		updateQueue tgbotapi.UpdatesChannel
		webhookCh   chan tgbotapi.Update
	)
	switch cfg.Mode {
	case bot.ModeWebhook:
		wh, err := tgbotapi.NewWebhook(cfg.WebhookURL)
		if err == nil {
			wh.AllowedUpdates = []string{"message", "callback_query"}
			_, err = tg.API.Request(wh)
		}
		if err != nil {
			<-sweeper.Stop().Done()
			store.Close()
			return fmt.Errorf("setWebhook failed: %w", err)
		}
		log.Info().Str("url", cfg.WebhookURL).Msg("webhook set")
		webhookCh = make(chan tgbotapi.Update, WorkQueueLen)
		updateQueue = webhookCh
	default:
		// Polling does not work while a webhook is set.
		if _, err := tg.API.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn().Err(err).Msg("deleteWebhook failed")
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.PollTimeout
		u.AllowedUpdates = []string{"message", "callback_query"}
		tg.API.Buffer = WorkQueueLen
		updateQueue = tg.API.GetUpdatesChan(u)
	}

	var srv *http.Server
	if cfg.Port > 0 {
		srv = server.New(cfg.Port, server.Routes(server.Options{Updates: webhookCh, Metrics: true}))
		go func() {
			log.Info().Int("port", cfg.Port).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("http server failed")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &Dispatcher{Ctx: ctx, Bot: b, Registry: registry}

	batchQueue := make(chan job, BatchQueueLen)
	BatchWg := sync.WaitGroup{}
	BatchWg.Add(cfg.NumBatches)
	batchesState := make([]BatchWorkerState, cfg.NumBatches)
	for i := 0; i < cfg.NumBatches; i++ {
		go func(i int) {
			defer BatchWg.Done()

			batchesState[i].BatchQueue = batchQueue
			BatchWorker(d, &batchesState[i])
		}(i)
	}

	WorkerWg := sync.WaitGroup{}
	WorkerWg.Add(cfg.NumWorkers)
	workersState := make([]WorkerState, cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		go func(i int) {
			defer WorkerWg.Done()

			workersState[i].WorkQueue = updateQueue
			workersState[i].BatchQueue = batchQueue
			Worker(d, &workersState[i])
		}(i)
	}
	log.Info().Str("mode", cfg.Mode).Int("workers", cfg.NumWorkers).Int("batches", cfg.NumBatches).Msg("bot running")

	sCh := make(chan os.Signal, 2)
	signal.Notify(sCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-sCh
	log.Info().Stringer("signal", s).Msg("shutting down")
	// A second signal aborts whatever is still running.
	go func() {
		s := <-sCh
		log.Warn().Stringer("signal", s).Msg("aborting running downloads")
		cancel()
	}()

	// Closing each queue and waiting for the affected routines, first for
	// regular workers and then for batch workers, guarantees all updates
	// get processed before we quit.
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if cfg.Mode == bot.ModeWebhook {
		// The server goes first so nothing writes to a closed channel.
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http shutdown")
			}
		}
		close(webhookCh)
		if _, err := tg.API.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn().Err(err).Msg("deleteWebhook failed")
		} else {
			log.Info().Msg("webhook deleted")
		}
	} else {
		// `StopReceivingUpdates` closes the update channel.
		tg.API.StopReceivingUpdates()
	}
	WorkerWg.Wait()
	close(batchQueue)
	BatchWg.Wait()

	if cfg.Mode != bot.ModeWebhook && srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	b.Deletions.Shutdown()
	<-sweeper.Stop().Done()
	if err := store.Close(); err != nil {
		return fmt.Errorf("catalog close: %w", err)
	}
	log.Info().Msg("bye")
	return nil
}
