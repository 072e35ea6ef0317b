package bot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/fastdl4u/fastdl/catalog"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	DefaultNumWorkers  = 8
	DefaultNumBatches  = 2
	DefaultPollTimeout = 60
	DefaultExpire      = 600 * time.Second
)

var (
	DefaultTTL, _ = time.ParseDuration("24h")

	// Seconds a reply stays in the chat, per command.
	DefaultExpirations = map[string]time.Duration{
		"img":  300 * time.Second,
		"vid":  600 * time.Second,
		"aud":  600 * time.Second,
		"code": 30 * time.Second,
	}

	DefaultSupportedHosts = []string{
		"youtube.com", "youtu.be",
		"instagram.com",
		"tiktok.com",
		"twitter.com", "x.com",
		"facebook.com", "fb.watch",
		"soundcloud.com",
		"vimeo.com",
		"dailymotion.com",
		"reddit.com",
		"twitch.tv",
	}
)

type Config struct {
	Env   string
	Token string `validate:"required"`
	// Telegram user ids allowed to run admin commands.
	Admins []int64

	Mode       string `validate:"oneof=polling webhook"`
	WebhookURL string `validate:"required_if=Mode webhook"`
	Port       int    `validate:"min=0,max=65535"`

	GofileAPI     string `validate:"required,url"`
	GofileToken   string
	GofileFolders map[catalog.Category]string

	Expirations map[string]time.Duration

	CatalogBackend string `validate:"oneof=memory json badger"`
	CatalogPath    string `validate:"required_unless=CatalogBackend memory"`

	DownloadDir    string `validate:"required"`
	YtdlpPath      string `validate:"required"`
	SupportedHosts []string
	LockerHosts    []string
	MaxFileSize    uint64

	NumWorkers  int `validate:"min=1"`
	NumBatches  int `validate:"min=1"`
	PollTimeout int `validate:"min=0"`
	TTL         *Duration

	SupervisorLog string
}

// ExpireFor returns how long replies of the given command stay around.
func (c *Config) ExpireFor(key string) time.Duration {
	if d, ok := c.Expirations[key]; ok {
		return d
	}
	return DefaultExpire
}

func (c *Config) IsAdmin(userID int64) bool {
	return lo.Contains(c.Admins, userID)
}

func (c *Config) Log() {
	token := c.Token
	if len(token) > 5 {
		token = token[:5] + "..."
	}
	log.Info().
		Str("token", token).
		Int("admins", len(c.Admins)).
		Str("mode", c.Mode).
		Str("webhook_url", c.WebhookURL).
		Int("port", c.Port).
		Str("gofile_api", c.GofileAPI).
		Bool("gofile_token", c.GofileToken != "").
		Str("catalog_backend", c.CatalogBackend).
		Str("catalog_path", c.CatalogPath).
		Str("download_dir", c.DownloadDir).
		Str("max_file_size", humanize.Bytes(c.MaxFileSize)).
		Int("workers", c.NumWorkers).
		Int("batches", c.NumBatches).
		Dur("update_ttl", c.TTL.Duration).
		Msg("bot configuration")
}

// LoadConfig reads the environment, after loading envFile (".env" when
// empty) if it exists. Any error here is meant to abort startup.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", envFile, err)
	}

	var err error
	cfg := &Config{
		Env:            getenv("APP_ENV", "production"),
		Token:          os.Getenv("BOT_TOKEN"),
		Mode:           getenv("BOT_MODE", ModePolling),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		GofileAPI:      getenv("GOFILE_API", "https://api.gofile.io"),
		GofileToken:    os.Getenv("GOFILE_TOKEN"),
		CatalogBackend: getenv("CATALOG_BACKEND", "json"),
		CatalogPath:    getenv("CATALOG_PATH", "db.json"),
		DownloadDir:    getenv("DOWNLOAD_DIR", "storage"),
		YtdlpPath:      getenv("YTDLP_PATH", "yt-dlp"),
		SupportedHosts: splitList(getenv("SUPPORTED_HOSTS", strings.Join(DefaultSupportedHosts, ","))),
		LockerHosts:    splitList(os.Getenv("LOCKER_HOSTS")),
		SupervisorLog:  getenv("SUPERVISOR_LOG", "bot_monitor.log"),
	}
	if cfg.Admins, err = parseAdmins(os.Getenv("ADMIN_IDS")); err != nil {
		return nil, err
	}
	if cfg.GofileFolders, err = parseFolders(os.Getenv("GOFILE_FOLDERS")); err != nil {
		return nil, err
	}
	defaultPort := 0
	if cfg.Mode == ModeWebhook {
		defaultPort = 8000
	}
	if cfg.Port, err = envInt("PORT", defaultPort); err != nil {
		return nil, err
	}
	if cfg.NumWorkers, err = envInt("WORKERS", DefaultNumWorkers); err != nil {
		return nil, err
	}
	if cfg.NumBatches, err = envInt("BATCHES", DefaultNumBatches); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = envInt("POLL_TIMEOUT", DefaultPollTimeout); err != nil {
		return nil, err
	}

	size := getenv("MAX_FILE_SIZE", "2GB")
	if cfg.MaxFileSize, err = humanize.ParseBytes(size); err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE %q: %w", size, err)
	}

	cfg.TTL = &Duration{Duration: DefaultTTL}
	if v := os.Getenv("UPDATE_TTL"); v != "" {
		if err := cfg.TTL.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid UPDATE_TTL %q: %w", v, err)
		}
	}

	cfg.Expirations = make(map[string]time.Duration, len(DefaultExpirations))
	for key, def := range DefaultExpirations {
		cfg.Expirations[key] = def
		name := "EXPIRE_" + strings.ToUpper(key)
		if v := os.Getenv(name); v != "" {
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			cfg.Expirations[key] = d.Duration
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Admins) == 0 {
		log.Warn().Msg("no ADMIN_IDS configured")
	}
	if cfg.GofileToken == "" {
		log.Warn().Msg("GOFILE_TOKEN is not set, uploads may fail")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAdmins(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseFolders reads "images:folderA,secret:folderB".
func parseFolders(s string) (map[catalog.Category]string, error) {
	folders := make(map[catalog.Category]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, folder, ok := strings.Cut(part, ":")
		if !ok || folder == "" {
			return nil, fmt.Errorf("invalid GOFILE_FOLDERS entry %q", part)
		}
		cat, err := catalog.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("invalid GOFILE_FOLDERS entry %q: %w", part, err)
		}
		folders[cat] = strings.TrimSpace(folder)
	}
	return folders, nil
}
