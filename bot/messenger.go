package bot

import (
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is everything the command layer needs from the chat platform.
// Message ids are those of the platform.
type Messenger interface {
	Send(chatID int64, text string, kb Keyboard) (int, error)
	SendPhoto(chatID int64, photoURL, caption string, kb Keyboard) (int, error)
	Edit(chatID int64, messageID int, text string, kb Keyboard) error
	Delete(chatID int64, messageID int) error
	AnswerCallback(callbackID, text string) error
	// FileURL resolves an uploaded file id to a URL it can be downloaded from.
	FileURL(fileID string) (string, error)
}

// Telegram implements Messenger on top of the Bot API client.
type Telegram struct {
	API *tgbotapi.BotAPI
}

var _ Messenger = (*Telegram)(nil)

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{API: api}, nil
}

func inlineMarkup(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (t *Telegram) Send(chatID int64, text string, kb Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) > 0 {
		msg.ReplyMarkup = inlineMarkup(kb)
	}
	sent, err := t.API.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendPhoto(chatID int64, photoURL, caption string, kb Keyboard) (int, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	if len(kb) > 0 {
		photo.ReplyMarkup = inlineMarkup(kb)
	}
	sent, err := t.API.Send(photo)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *Telegram) Edit(chatID int64, messageID int, text string, kb Keyboard) error {
	var edit tgbotapi.EditMessageTextConfig
	if len(kb) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, inlineMarkup(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	_, err := t.API.Request(edit)
	return err
}

func (t *Telegram) Delete(chatID int64, messageID int) error {
	_, err := t.API.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (t *Telegram) AnswerCallback(callbackID, text string) error {
	_, err := t.API.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

func (t *Telegram) FileURL(fileID string) (string, error) {
	return t.API.GetFileDirectURL(fileID)
}
