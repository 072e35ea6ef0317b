package main

import (
	"context"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/metrics"
	"github.com/fastdl4u/fastdl/module"
)

const (
	WorkQueueLen  = 100
	BatchQueueLen = 5
)

// job is an update whose handler takes long, waiting for a batch worker.
type job struct {
	name    string
	handler module.CommandHandler
	update  tgbotapi.Update
}

type BatchWorkerState struct {
	BatchQueue <-chan job
}

type WorkerState struct {
	WorkQueue  <-chan tgbotapi.Update
	BatchQueue chan<- job
}

// Dispatcher is what every worker shares.
type Dispatcher struct {
	Ctx      context.Context
	Bot      *bot.Bot
	Registry *module.Registry
}

func updateKind(u *tgbotapi.Update) string {
	switch {
	case u.Message != nil:
		return "message"
	case u.CallbackQuery != nil:
		return "callback"
	}
	return "other"
}

// handle runs a handler, recovering from its panics.
func (d *Dispatcher) handle(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("cmd", j.name).Int64("chat_id", bot.ChatID(&j.update)).
				Msg("handler panicked")
			metrics.Updates.WithLabelValues(updateKind(&j.update), "panic").Inc()
		}
	}()
	metrics.Commands.WithLabelValues(j.name).Inc()
	log.Debug().Str("cmd", j.name).Int64("chat_id", bot.ChatID(&j.update)).Int64("user_id", bot.UserID(&j.update)).
		Msg("handling")
	j.handler.HandleCommand(d.Ctx, d.Bot, &j.update)
}

func BatchWorker(d *Dispatcher, worker *BatchWorkerState) {
	for {
		work, ok := <-worker.BatchQueue
		// Channel was closed, that's our cue to exit.
		if !ok {
			break
		}
		d.handle(work)
	}
	log.Debug().Msg("batch worker done")
}

func Worker(d *Dispatcher, worker *WorkerState) {
	for {
		update, ok := <-worker.WorkQueue
		// Channel was closed, that's our cue to exit.
		if !ok {
			break
		}
		d.dispatch(update, worker.BatchQueue)
	}
	log.Debug().Msg("worker done")
}

func (d *Dispatcher) dispatch(update tgbotapi.Update, batchQueue chan<- job) {
	kind := updateKind(&update)
	if update.Message != nil {
		if date := time.Unix(int64(update.Message.Date), 0); bot.Expired(date, d.Bot.Config.TTL) {
			metrics.Updates.WithLabelValues(kind, "expired").Inc()
			return
		}
	}

	name, handler := d.Registry.Lookup(&update)
	if handler == nil {
		metrics.Updates.WithLabelValues(kind, "ignored").Inc()
		return
	}

	chatID := bot.ChatID(&update)
	if handler.RequiresPrivileges() && !d.Bot.IsAdmin(bot.UserID(&update)) {
		log.Info().Str("cmd", name).Int64("user_id", bot.UserID(&update)).Msg("unauthorized")
		metrics.Updates.WithLabelValues(kind, "unauthorized").Inc()
		if update.CallbackQuery != nil {
			d.Bot.Answer(&update, "❌ You are not authorized.")
		} else {
			d.Bot.Reply(chatID, "❌ You are not authorized.")
		}
		return
	}

	j := job{name: name, handler: handler, update: update}
	if handler.TakesLong() {
		select {
		case batchQueue <- j:
			metrics.Updates.WithLabelValues(kind, "queued").Inc()
		default:
			metrics.Updates.WithLabelValues(kind, "busy").Inc()
			if update.CallbackQuery != nil {
				d.Bot.Answer(&update, "⏳ The bot is busy, try again in a minute.")
			} else {
				d.Bot.Reply(chatID, "⏳ The bot is busy, try again in a minute.")
			}
		}
		return
	}
	metrics.Updates.WithLabelValues(kind, "handled").Inc()
	d.handle(j)
}
