package stat

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fastdl4u/fastdl/bot"
	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/module"
)

type Stat struct {
	module.DefaultCommandHandler

	Store    *catalog.Store
	InitTime time.Time
}

var _ module.Module = &Stat{}
var _ module.CommandHandler = &Stat{}

func (s *Stat) Init(r *module.Registry) error {
	s.InitTime = time.Now()
	r.RegisterCommandHandler("stat", s)
	return nil
}

func (s *Stat) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Reply(bot.ChatID(u), s.Report(b.Deletions))
}

// Report is the /stat text: uptime, memory, deletions waiting to fire and
// what the catalog holds.
func (s *Stat) Report(deletions *bot.Scheduler) string {
	var sb strings.Builder

	uptime := time.Since(s.InitTime).Round(time.Second)
	fmt.Fprintf(&sb, "Up: %s\n", uptime)

	memStats := runtime.MemStats{}
	runtime.ReadMemStats(&memStats)
	fmt.Fprintf(&sb, "Memory: %s\n", humanize.IBytes(memStats.HeapAlloc))
	fmt.Fprintf(&sb, "Goroutines: %d\n", runtime.NumGoroutine())

	// TODO: rusage for system and user CPU time

	if deletions != nil {
		fmt.Fprintf(&sb, "Pending deletions: %d\n", deletions.Pending())
	}

	if s.Store != nil {
		sb.WriteString("\nCatalog:\n")
		for _, c := range catalog.Categories {
			fmt.Fprintf(&sb, "%s: %d\n", c, s.Store.Count(c))
		}
	}
	return sb.String()
}

func (s *Stat) Help() string {
	return "tells whether the bot is alive, with stats about the system and the catalog."
}
