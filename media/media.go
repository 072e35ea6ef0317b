// Package media serves the catalog over chat: random files per category,
// secret codes, and the admin commands that fill the catalog.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/module"
	"github.com/fastdl4u/fastdl/upload"
)

// Uploader is the part of the upload client media needs.
type Uploader interface {
	Upload(ctx context.Context, path string, category catalog.Category) (*upload.Result, error)
}

// Media owns the catalog commands. Admins arm an upload with /addfile or
// /addsecret; their next file message is taken by the upload handler.
type Media struct {
	Store    *catalog.Store
	Uploader Uploader
	// Downloads files sent by admins from Telegram.
	HTTP *http.Client

	// Armed uploads, by user id. An empty category means "infer it from
	// the kind of file".
	armed cmap.ConcurrentMap[string, catalog.Category]
}

var _ module.Module = &Media{}

func New(store *catalog.Store, uploader Uploader) *Media {
	return &Media{
		Store:    store,
		Uploader: uploader,
		HTTP:     &http.Client{Timeout: upload.DefaultTimeout},
		armed:    cmap.New[catalog.Category](),
	}
}

// Short command names, used for menu callbacks and reply lifetimes.
var shortNames = map[catalog.Category]string{
	catalog.Images: "img",
	catalog.Videos: "vid",
	catalog.Audios: "aud",
	catalog.Secret: "code",
}

func (m *Media) Init(r *module.Registry) error {
	r.RegisterCommandHandler("start", &Start{})
	for _, c := range []catalog.Category{catalog.Images, catalog.Videos, catalog.Audios} {
		h := &Random{media: m, category: c}
		r.RegisterCommandHandler(shortNames[c], h)
		r.RegisterAction(shortNames[c], h)
	}
	r.RegisterCommandHandler("get", &Get{media: m})
	r.RegisterCommandHandler("secret", &Secret{media: m})

	addFile := &AddFile{media: m}
	addSecret := &AddFile{media: m, secret: true}
	r.RegisterCommandHandler("addfile", addFile)
	r.RegisterAction("addfile", addFile)
	r.RegisterCommandHandler("addsecret", addSecret)
	r.RegisterAction("addsecret", addSecret)
	r.RegisterCommandHandler("addlink", &AddLink{media: m})
	r.RegisterAction("addlink", &AddLink{media: m})

	r.RegisterAction("play", &Play{media: m})
	r.RegisterAction("download", &Play{media: m, asLink: true})
	r.RegisterAction("delete", &Delete{media: m})

	r.RegisterFallback(m.isArmedUpload, &ReceiveFile{media: m})
	return nil
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (m *Media) isArmedUpload(u *tgbotapi.Update) bool {
	if u.Message == nil || u.Message.From == nil {
		return false
	}
	return m.armed.Has(userKey(u.Message.From.ID)) && fileOf(u.Message) != nil
}

// Controls are the buttons under a catalog reply. Admins can also delete.
func Controls(id string, admin bool) bot.Keyboard {
	if !admin {
		return bot.Keyboard{bot.Row(
			bot.Button{Text: "▶ View", Data: "play_" + id},
		)}
	}
	return bot.Keyboard{bot.Row(
		bot.Button{Text: "▶ Play", Data: "play_" + id},
		bot.Button{Text: "📥 Download", Data: "download_" + id},
		bot.Button{Text: "❌ Delete", Data: "delete_" + id},
	)}
}

func (m *Media) expireFor(b *bot.Bot, c catalog.Category) time.Duration {
	return b.Config.ExpireFor(shortNames[c])
}

// Start greets with the category menu; admins get the catalog tools too.
type Start struct {
	module.DefaultCommandHandler
}

func (*Start) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	kb := bot.Keyboard{bot.Row(
		bot.Button{Text: "🖼 Images", Data: "img"},
		bot.Button{Text: "🎞 Videos", Data: "vid"},
		bot.Button{Text: "🎧 Audio", Data: "aud"},
	)}
	if b.IsAdmin(bot.UserID(u)) {
		kb = append(kb, bot.Row(
			bot.Button{Text: "➕ Add File", Data: "addfile"},
			bot.Button{Text: "🔒 Add Secret", Data: "addsecret"},
			bot.Button{Text: "🔗 Add Link", Data: "addlink"},
		))
	}
	b.ReplyWith(bot.ChatID(u), "👋 Welcome! Use the menu, send a command or paste a link.", kb)
}

func (*Start) Help() string {
	return "show the main menu."
}

// Random replies with a random record of its category, which deletes
// itself after the category delay.
type Random struct {
	module.DefaultCommandHandler

	media    *Media
	category catalog.Category
}

func (h *Random) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Answer(u, "")
	chatID := bot.ChatID(u)
	rec, err := h.media.Store.RandomByCategory(h.category)
	if err != nil {
		b.Reply(chatID, "No files found.")
		return
	}
	kb := Controls(rec.ID, b.IsAdmin(bot.UserID(u)))
	b.ReplyExpiring(chatID, rec.URL, kb, h.media.expireFor(b, h.category))
}

func (h *Random) Help() string {
	return fmt.Sprintf("a random file from %s.", h.category)
}

// Get looks a secret record up by code. Both the reply and the command
// that carried the code are deleted after the code delay.
type Get struct {
	module.DefaultCommandHandler

	media *Media
}

func (h *Get) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID := bot.ChatID(u)
	code := module.Args(u)
	if code == "" {
		b.Reply(chatID, "Usage: /get <code>")
		return
	}
	rec, err := h.media.Store.GetByCode(code)
	if err != nil {
		b.Reply(chatID, "Invalid code.")
		return
	}
	b.ReplyExpiring(chatID, rec.URL, Controls(rec.ID, false), h.media.expireFor(b, catalog.Secret), bot.MessageID(u))
}

func (*Get) Help() string {
	return "<code> fetch a secret file by its code."
}

// Secret lists every secret record with its code.
type Secret struct {
	module.AdminCommandHandler

	media *Media
}

func (h *Secret) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID := bot.ChatID(u)
	recs := h.media.Store.ListByCategory(catalog.Secret)
	if len(recs) == 0 {
		b.Reply(chatID, "No secret files.")
		return
	}
	for _, rec := range recs {
		b.ReplyWith(chatID, fmt.Sprintf("%s | Code: %s", rec.URL, rec.Code), Controls(rec.ID, true))
	}
}

func (*Secret) Help() string {
	return "list secret files and their codes."
}

// Play resends a record's link, or with asLink a button that opens it.
type Play struct {
	module.DefaultCommandHandler

	media  *Media
	asLink bool
}

func (h *Play) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	rec, err := h.media.Store.Get(module.CallbackArg(u))
	if err != nil {
		b.Answer(u, "This file is no longer available.")
		return
	}
	b.Answer(u, "")
	chatID := bot.ChatID(u)
	if h.asLink {
		kb := bot.Keyboard{bot.Row(bot.Button{Text: "📥 Download", URL: rec.URL})}
		b.ReplyExpiring(chatID, "🔽 Download link:", kb, h.media.expireFor(b, rec.Category))
		return
	}
	b.ReplyExpiring(chatID, rec.URL, nil, h.media.expireFor(b, rec.Category))
}

func (*Play) Help() string {
	return "resend a file."
}

// Delete removes a record from the catalog and its message from the chat.
type Delete struct {
	module.AdminCommandHandler

	media *Media
}

func (h *Delete) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	id := module.CallbackArg(u)
	err := h.media.Store.Delete(id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		b.Answer(u, "Already deleted.")
	case err != nil:
		log.Error().Err(err).Str("record_id", id).Msg("delete failed")
		b.Answer(u, "Delete failed, try again.")
		return
	default:
		log.Info().Str("record_id", id).Int64("user_id", bot.UserID(u)).Msg("record deleted")
		b.Answer(u, "Deleted.")
	}
	if err := b.Delete(bot.ChatID(u), bot.MessageID(u)); err != nil {
		b.EditOrLog(bot.ChatID(u), bot.MessageID(u), "❌ Deleted.", nil)
	}
}

func (*Delete) Help() string {
	return "delete a file from the catalog."
}
