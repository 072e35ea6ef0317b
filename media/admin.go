package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/module"
)

// AddFile arms an upload: the admin's next file goes to the catalog.
type AddFile struct {
	module.AdminCommandHandler

	media  *Media
	secret bool
}

func (h *AddFile) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Answer(u, "")
	chatID := bot.ChatID(u)

	var category catalog.Category
	switch args := module.Args(u); {
	case h.secret:
		category = catalog.Secret
	case args != "":
		c, err := catalog.ParseCategory(args)
		if err != nil {
			b.Reply(chatID, "Usage: /addfile [images|videos|audios|secret]")
			return
		}
		category = c
	}

	h.media.armed.Set(userKey(bot.UserID(u)), category)
	if category == "" {
		b.Reply(chatID, "📤 Send the file now. Its category follows the file type.")
		return
	}
	b.Reply(chatID, fmt.Sprintf("📤 Send the file now. It goes to %s.", category))
}

func (h *AddFile) Help() string {
	if h.secret {
		return "upload your next file as a secret, with a code."
	}
	return "[category] upload your next file to the catalog."
}

// AddLink adds an already public URL to the catalog.
type AddLink struct {
	module.AdminCommandHandler

	media *Media
}

const addLinkUsage = "Usage: /addlink <images|videos|audios|secret> <url>"

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *AddLink) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID := bot.ChatID(u)
	if u.CallbackQuery != nil {
		b.Answer(u, "")
		b.Reply(chatID, addLinkUsage)
		return
	}

	args := strings.Fields(module.Args(u))
	if len(args) != 2 || !validURL(args[1]) {
		b.Reply(chatID, addLinkUsage)
		return
	}
	category, err := catalog.ParseCategory(args[0])
	if err != nil {
		b.Reply(chatID, addLinkUsage)
		return
	}

	rec, err := h.media.Store.Insert(catalog.Record{
		ID:         uuid.NewString(),
		URL:        args[1],
		Category:   category,
		UploaderID: bot.UserID(u),
	})
	if err != nil {
		log.Error().Err(err).Str("url", args[1]).Msg("link insert failed")
		b.Reply(chatID, "❌ Could not save the link.")
		return
	}
	log.Info().Str("record_id", rec.ID).Str("category", string(category)).Msg("link added")
	b.Reply(chatID, confirmation("✅ Added", rec, -1))
}

func (*AddLink) Help() string {
	return "<category> <url> add a public link to the catalog."
}

func confirmation(title string, rec catalog.Record, size int64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s to %s: %s", title, rec.Category, rec.URL)
	if size >= 0 {
		fmt.Fprintf(&sb, "\nSize: %s", humanize.Bytes(uint64(size)))
	}
	if rec.Code != "" {
		fmt.Fprintf(&sb, "\nCode: %s", rec.Code)
	}
	return sb.String()
}

// incoming is a file attached to a message.
type incoming struct {
	FileID   string
	Name     string
	Category catalog.Category
}

func categoryOfMime(mime string) catalog.Category {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return catalog.Images
	case strings.HasPrefix(mime, "video/"):
		return catalog.Videos
	case strings.HasPrefix(mime, "audio/"):
		return catalog.Audios
	}
	return ""
}

func fileOf(msg *tgbotapi.Message) *incoming {
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return &incoming{FileID: p.FileID, Name: p.FileUniqueID + ".jpg", Category: catalog.Images}
	case msg.Video != nil:
		return &incoming{FileID: msg.Video.FileID, Name: msg.Video.FileUniqueID + ".mp4", Category: catalog.Videos}
	case msg.Audio != nil:
		return &incoming{FileID: msg.Audio.FileID, Name: msg.Audio.FileUniqueID + ".mp3", Category: catalog.Audios}
	case msg.Voice != nil:
		return &incoming{FileID: msg.Voice.FileID, Name: msg.Voice.FileUniqueID + ".ogg", Category: catalog.Audios}
	case msg.Document != nil:
		name := filepath.Base(msg.Document.FileName)
		if name == "." || name == "/" || name == "" {
			name = msg.Document.FileUniqueID
		}
		return &incoming{FileID: msg.Document.FileID, Name: name, Category: categoryOfMime(msg.Document.MimeType)}
	}
	return nil
}

// ReceiveFile takes the file an admin sent after arming an upload: it is
// fetched from Telegram, uploaded to the file host and recorded.
type ReceiveFile struct {
	module.AdminCommandHandler

	media *Media
}

func (h *ReceiveFile) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID, userID := bot.ChatID(u), bot.UserID(u)
	f := fileOf(u.Message)
	armed, ok := h.media.armed.Pop(userKey(userID))
	if f == nil || !ok {
		return
	}
	category := armed
	if category == "" {
		category = f.Category
	}
	if category == "" {
		b.Reply(chatID, "Can't tell what kind of file this is. Use /addfile <category> and send it again.")
		return
	}

	status := b.Reply(chatID, "⏳ Uploading...")
	rec, size, err := h.media.ingest(ctx, b, f, category, userID)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Str("file_id", f.FileID).Msg("upload failed")
		b.EditOrLog(chatID, status, "❌ Upload failed. Send /addfile to try again.", nil)
		return
	}
	b.EditOrLog(chatID, status, confirmation("✅ Uploaded", rec, size), nil)
}

func (*ReceiveFile) Help() string {
	return "file upload"
}

func (*ReceiveFile) TakesLong() bool {
	return true
}

func (m *Media) ingest(ctx context.Context, b *bot.Bot, f *incoming, category catalog.Category, userID int64) (catalog.Record, int64, error) {
	src, err := b.FileURL(f.FileID)
	if err != nil {
		return catalog.Record{}, 0, fmt.Errorf("file url: %w", err)
	}

	// A directory per upload keeps the original file name for the host.
	dir := filepath.Join(b.Config.DownloadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return catalog.Record{}, 0, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("temp dir cleanup failed")
		}
	}()

	path := filepath.Join(dir, f.Name)
	size, err := m.download(ctx, src, path)
	if err != nil {
		return catalog.Record{}, 0, fmt.Errorf("telegram download: %w", err)
	}

	res, err := m.Uploader.Upload(ctx, path, category)
	if err != nil {
		return catalog.Record{}, 0, err
	}
	rec, err := m.Store.Insert(catalog.Record{
		ID:         res.ID,
		URL:        res.URL,
		Category:   category,
		UploaderID: userID,
	})
	if err != nil {
		return catalog.Record{}, 0, err
	}
	log.Info().Str("record_id", rec.ID).Str("category", string(category)).Int64("user_id", userID).Msg("file added")
	return rec, size, nil
}

func (m *Media) download(ctx context.Context, src, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.New(resp.Status)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
