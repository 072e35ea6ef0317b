package bot

import (
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Bot is what every command handler gets: the way to talk back, the
// configuration and the deletion scheduler.
type Bot struct {
	Messenger
	Config    *Config
	Deletions *Scheduler
	Started   time.Time
}

func New(m Messenger, cfg *Config) *Bot {
	return &Bot{
		Messenger: m,
		Config:    cfg,
		Deletions: NewScheduler(m),
		Started:   time.Now(),
	}
}

func (b *Bot) IsAdmin(userID int64) bool {
	return b.Config.IsAdmin(userID)
}

// Reply sends text and logs failures, for messages nobody waits on.
func (b *Bot) Reply(chatID int64, text string) int {
	return b.ReplyWith(chatID, text, nil)
}

func (b *Bot) ReplyWith(chatID int64, text string, kb Keyboard) int {
	id, err := b.Send(chatID, text, kb)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
	return id
}

// ReplyExpiring sends text and schedules its deletion, together with the
// extra message ids, after ttl.
func (b *Bot) ReplyExpiring(chatID int64, text string, kb Keyboard, ttl time.Duration, extra ...int) *Task {
	id, err := b.Send(chatID, text, kb)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
		return nil
	}
	return b.Deletions.Schedule(chatID, ttl, append([]int{id}, extra...)...)
}

// EditOrLog edits a status message; a failed edit is not worth more.
func (b *Bot) EditOrLog(chatID int64, messageID int, text string, kb Keyboard) {
	if err := b.Edit(chatID, messageID, text, kb); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Int("message_id", messageID).Msg("edit failed")
	}
}

// Answer acknowledges a callback query, optionally with a toast. It does
// nothing for message updates.
func (b *Bot) Answer(u *tgbotapi.Update, text string) {
	if u.CallbackQuery == nil {
		return
	}
	if err := b.AnswerCallback(u.CallbackQuery.ID, text); err != nil {
		log.Debug().Err(err).Str("callback_id", u.CallbackQuery.ID).Msg("callback answer failed")
	}
}

// ChatID, UserID and MessageID read an update the same way whether it is
// a message or a callback query.
func ChatID(u *tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	}
	return 0
}

func UserID(u *tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

func MessageID(u *tgbotapi.Update) int {
	switch {
	case u.Message != nil:
		return u.Message.MessageID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.MessageID
	}
	return 0
}
