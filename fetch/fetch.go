// Package fetch is the link flow: a user sends a link, picks video or
// audio, and gets back a public download link for the file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/extract"
	"github.com/fastdl4u/fastdl/module"
	"github.com/fastdl4u/fastdl/upload"
)

const (
	// Telegram caps callback data at 64 bytes.
	maxCallbackData = 64

	DefaultEditInterval = 2 * time.Second
	DefaultChoiceTTL    = time.Hour
	maxPendingChoices   = 4096
)

type State int

const (
	Idle State = iota
	AwaitingChoice
	Downloading
	Uploading
	Done
	Failed
)

var stateNames = [...]string{"idle", "awaiting_choice", "downloading", "uploading", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

type Extractor interface {
	IsSupported(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (*extract.MediaInfo, error)
	Fetch(ctx context.Context, rawURL string, mode extract.Mode, progress extract.ProgressFunc) (*extract.Download, error)
}

type Uploader interface {
	Upload(ctx context.Context, path string, category catalog.Category) (*upload.Result, error)
}

type Fetch struct {
	Extractor Extractor
	Uploader  Uploader
	// Minimum time between two progress edits of the same message.
	EditInterval time.Duration

	// Links too long for callback data, by token.
	pending *expirable.LRU[string, string]
	// Chats with a download running.
	inflight cmap.ConcurrentMap[string, State]

	// Called on every state change; tests hook it.
	observe func(chatID int64, s State)
}

var _ module.Module = &Fetch{}

func New(ex Extractor, up Uploader) *Fetch {
	return &Fetch{
		Extractor:    ex,
		Uploader:     up,
		EditInterval: DefaultEditInterval,
		pending:      expirable.NewLRU[string, string](maxPendingChoices, nil, DefaultChoiceTTL),
		inflight:     cmap.New[State](),
	}
}

func (f *Fetch) Init(r *module.Registry) error {
	link := &Link{fetch: f}
	r.RegisterCommandHandler("link", link)
	r.RegisterFallback(IsLink, link)
	r.RegisterAction(string(extract.Video), &Choice{fetch: f, mode: extract.Video})
	r.RegisterAction(string(extract.Audio), &Choice{fetch: f, mode: extract.Audio})
	return nil
}

// IsLink matches plain messages that are nothing but a web link.
func IsLink(u *tgbotapi.Update) bool {
	if u.Message == nil {
		return false
	}
	fields := strings.Fields(u.Message.Text)
	return len(fields) == 1 && (strings.HasPrefix(fields[0], "https://") || strings.HasPrefix(fields[0], "http://"))
}

func (f *Fetch) setState(chatID int64, s State) {
	log.Debug().Int64("chat_id", chatID).Stringer("state", s).Msg("fetch state")
	if s != AwaitingChoice && s != Idle {
		f.inflight.Set(chatKey(chatID), s)
	}
	if f.observe != nil {
		f.observe(chatID, s)
	}
}

// State is where the chat's running download is, Idle when there is none.
func (f *Fetch) State(chatID int64) State {
	if s, ok := f.inflight.Get(chatKey(chatID)); ok {
		return s
	}
	return Idle
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// ref is what goes after "video|" in callback data: the link itself when
// it fits, a token for the pending cache otherwise.
func (f *Fetch) ref(rawURL string) string {
	if len(string(extract.Video)+"|"+rawURL) <= maxCallbackData {
		return rawURL
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	f.pending.Add(token, rawURL)
	return token
}

func (f *Fetch) deref(ref string) (string, bool) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, true
	}
	return f.pending.Get(ref)
}

// ChoiceKeyboard offers the two download modes for a link.
func (f *Fetch) ChoiceKeyboard(rawURL string) bot.Keyboard {
	ref := f.ref(rawURL)
	return bot.Keyboard{bot.Row(
		bot.Button{Text: "🎬 Video", Data: string(extract.Video) + "|" + ref},
		bot.Button{Text: "🎧 Audio", Data: string(extract.Audio) + "|" + ref},
	)}
}

func describe(info *extract.MediaInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎬 %s", info.Title)
	if info.Platform != "" {
		fmt.Fprintf(&sb, "\n🌐 %s", info.Platform)
	}
	if info.Duration > 0 {
		fmt.Fprintf(&sb, "\n⏱ %s", info.Duration.Round(time.Second))
	}
	sb.WriteString("\n\nChoose a format:")
	return sb.String()
}

// Bar renders a progress percentage as a ten-cell bar.
func Bar(percent float64) string {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	filled := int(percent / 10)
	return fmt.Sprintf("%s%s %.1f%%", strings.Repeat("▓", filled), strings.Repeat("░", 10-filled), percent)
}

// Link checks a link and offers the video and audio choices.
type Link struct {
	module.DefaultCommandHandler

	fetch *Fetch
}

func (h *Link) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID := bot.ChatID(u)
	rawURL := module.Args(u)
	if !u.Message.IsCommand() {
		rawURL = strings.TrimSpace(u.Message.Text)
	}
	if rawURL == "" {
		b.Reply(chatID, "Usage: /link <url>, or just send the link.")
		return
	}
	if !h.fetch.Extractor.IsSupported(rawURL) {
		b.Reply(chatID, "❌ This site is not supported.")
		return
	}

	status := b.Reply(chatID, "🔍 Checking the link...")
	info, err := h.fetch.Extractor.Resolve(ctx, rawURL)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Str("url", rawURL).Msg("resolve failed")
		b.EditOrLog(chatID, status, "❌ Could not read this link.", nil)
		return
	}

	kb := h.fetch.ChoiceKeyboard(rawURL)
	if info.Thumbnail != "" {
		if _, err := b.SendPhoto(chatID, info.Thumbnail, describe(info), kb); err == nil {
			if err := b.Delete(chatID, status); err != nil {
				log.Debug().Err(err).Int64("chat_id", chatID).Msg("status delete failed")
			}
			h.fetch.setState(chatID, AwaitingChoice)
			return
		}
	}
	b.EditOrLog(chatID, status, describe(info), kb)
	h.fetch.setState(chatID, AwaitingChoice)
}

func (*Link) Help() string {
	return "<url> download a video or its audio."
}

func (*Link) TakesLong() bool {
	return true
}

// Choice runs a download once the user picked a mode.
type Choice struct {
	module.DefaultCommandHandler

	fetch *Fetch
	mode  extract.Mode
}

func (h *Choice) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	chatID := bot.ChatID(u)
	rawURL, ok := h.fetch.deref(module.CallbackArg(u))
	if !ok {
		b.Answer(u, "This choice expired, send the link again.")
		return
	}
	if !h.fetch.inflight.SetIfAbsent(chatKey(chatID), Downloading) {
		b.Answer(u, "⏳ A download is already running in this chat.")
		return
	}
	defer h.fetch.inflight.Remove(chatKey(chatID))
	b.Answer(u, "")

	h.fetch.run(ctx, b, chatID, rawURL, h.mode)
}

func (*Choice) Help() string {
	return "download choice"
}

func (*Choice) TakesLong() bool {
	return true
}

func failureText(err error) string {
	switch {
	case errors.Is(err, extract.ErrTooLarge):
		return "❌ The file is too large."
	case errors.Is(err, extract.ErrUnsupported):
		return "❌ This format is not available for this link."
	case errors.Is(err, upload.ErrUploadFailed):
		return "❌ Upload failed, try again later."
	}
	return "❌ Download failed."
}

// run drives one download from Downloading to Done or Failed. The status
// message always gets a final edit and the local file is always removed.
func (f *Fetch) run(ctx context.Context, b *bot.Bot, chatID int64, rawURL string, mode extract.Mode) {
	start := time.Now()
	status := b.Reply(chatID, "⬇️ Downloading...\n"+Bar(0))
	f.setState(chatID, Downloading)

	limiter := rate.NewLimiter(rate.Every(f.EditInterval), 1)
	limiter.Allow()
	last := 0.0
	progress := func(p float64) {
		if p-last < 1 || !limiter.Allow() {
			return
		}
		last = p
		b.EditOrLog(chatID, status, "⬇️ Downloading...\n"+Bar(p), nil)
	}

	fail := func(err error) {
		log.Error().Err(err).Int64("chat_id", chatID).Str("url", rawURL).Str("mode", string(mode)).Msg("fetch failed")
		b.EditOrLog(chatID, status, failureText(err), nil)
		f.setState(chatID, Failed)
	}

	d, err := f.Extractor.Fetch(ctx, rawURL, mode, progress)
	if err != nil {
		fail(err)
		return
	}
	defer d.Close()

	b.EditOrLog(chatID, status, "☁️ Uploading...", nil)
	f.setState(chatID, Uploading)

	category := catalog.Videos
	if mode == extract.Audio {
		category = catalog.Audios
	}
	res, err := f.Uploader.Upload(ctx, d.Path, category)
	if err != nil {
		fail(err)
		return
	}

	text := fmt.Sprintf("✅ Done in %s\n📦 %s\n🔗 %s", time.Since(start).Round(time.Second), humanize.Bytes(uint64(d.Size)), res.URL)
	kb := bot.Keyboard{bot.Row(bot.Button{Text: "📥 Download", URL: res.URL})}
	b.EditOrLog(chatID, status, text, kb)
	f.setState(chatID, Done)
	log.Info().Int64("chat_id", chatID).Str("url", rawURL).Str("mode", string(mode)).Str("link", res.URL).Msg("fetch done")
}
