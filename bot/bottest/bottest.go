// Package bottest provides a recording Messenger and update builders for
// command handler tests.
package bottest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fastdl4u/fastdl/bot"
)

var ErrGone = errors.New("message to delete not found")

type Sent struct {
	ChatID    int64
	MessageID int
	Text      string
	Photo     string
	Keyboard  bot.Keyboard
}

type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  bot.Keyboard
}

type Deleted struct {
	ChatID    int64
	MessageID int
}

// Messenger records everything sent through it. Message ids start at 100.
type Messenger struct {
	mu       sync.Mutex
	next     int
	Sent     []Sent
	Edits    []Edit
	Deleted  []Deleted
	Answers  map[string]string
	Files    map[string]string
	SendErr  error
	DeleteFn func(chatID int64, messageID int) error
}

var _ bot.Messenger = (*Messenger)(nil)

func NewMessenger() *Messenger {
	return &Messenger{
		next:    100,
		Answers: make(map[string]string),
		Files:   make(map[string]string),
	}
}

func (m *Messenger) Send(chatID int64, text string, kb bot.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	m.next++
	m.Sent = append(m.Sent, Sent{ChatID: chatID, MessageID: m.next, Text: text, Keyboard: kb})
	return m.next, nil
}

func (m *Messenger) SendPhoto(chatID int64, photoURL, caption string, kb bot.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	m.next++
	m.Sent = append(m.Sent, Sent{ChatID: chatID, MessageID: m.next, Text: caption, Photo: photoURL, Keyboard: kb})
	return m.next, nil
}

func (m *Messenger) Edit(chatID int64, messageID int, text string, kb bot.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, Edit{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (m *Messenger) Delete(chatID int64, messageID int) error {
	if m.DeleteFn != nil {
		if err := m.DeleteFn(chatID, messageID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, Deleted{ChatID: chatID, MessageID: messageID})
	return nil
}

func (m *Messenger) AnswerCallback(callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Answers[callbackID] = text
	return nil
}

func (m *Messenger) FileURL(fileID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Files[fileID]; ok {
		return u, nil
	}
	return "", fmt.Errorf("file %s not found", fileID)
}

// Texts returns the text of every sent message, in order.
func (m *Messenger) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		out[i] = s.Text
	}
	return out
}

func (m *Messenger) Last() Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return Sent{}
	}
	return m.Sent[len(m.Sent)-1]
}

func (m *Messenger) LastEdit() Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Edits) == 0 {
		return Edit{}
	}
	return m.Edits[len(m.Edits)-1]
}

func (m *Messenger) DeletedIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.Deleted))
	for i, d := range m.Deleted {
		out[i] = d.MessageID
	}
	return out
}

// Config returns a valid configuration with the given admins.
func Config(admins ...int64) *bot.Config {
	return &bot.Config{
		Token:          "123456:test",
		Admins:         admins,
		Mode:           bot.ModePolling,
		GofileAPI:      "http://gofile.invalid",
		Expirations:    map[string]time.Duration{},
		CatalogBackend: "memory",
		DownloadDir:    ".",
		YtdlpPath:      "yt-dlp",
		NumWorkers:     1,
		NumBatches:     1,
		TTL:            &bot.Duration{Duration: bot.DefaultTTL},
	}
}

// Command builds a message update carrying a bot command, like "/get ABC".
func Command(chatID, userID int64, text string) tgbotapi.Update {
	u := Text(chatID, userID, text)
	cmd := strings.SplitN(text, " ", 2)[0]
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return u
}

func Text(chatID, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 7,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Date:      int(time.Now().Unix()),
			Text:      text,
		},
	}
}

func Callback(chatID, userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-" + data,
			From: &tgbotapi.User{ID: userID},
			Message: &tgbotapi.Message{
				MessageID: 8,
				Chat:      &tgbotapi.Chat{ID: chatID},
				Date:      int(time.Now().Unix()),
			},
			Data: data,
		},
	}
}
