package module

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/arbovm/levenshtein"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/bot"
)

// Modules are only a way to structure code: each one installs its
// `CommandHandler`s on the registry it is given, after the configuration
// and the connection with Telegram are up.
// Everything a module needs (catalog, uploader, extractor) is handed to it
// when it is built; nothing is looked up globally.
type Module interface {
	Init(*Registry) error
}

// What we refer to as "functionality" is really one or more commands or
// callback actions.
// `CommandHandler`s implement a `Help` method that returns a description of
// what it does and usage instructions and a `HandleCommand` one that responds
// to an update.
// It also needs to tell whether it requires privileges to run, by
// implementing `RequiresPrivileges`, and whether it should be batched so the
// worker can move on, with `TakesLong`.
type CommandHandler interface {
	HandleCommand(context.Context, *bot.Bot, *tgbotapi.Update)
	Help() string
	TakesLong() bool
	RequiresPrivileges() bool
}

// Matcher claims plain messages (no command) for a fallback handler.
type Matcher func(*tgbotapi.Update) bool

type fallback struct {
	match   Matcher
	handler CommandHandler
}

// Registry maps commands and callback actions to their handlers. It is
// filled once at startup and only read afterwards.
type Registry struct {
	commands  map[string]CommandHandler
	actions   map[string]CommandHandler
	fallbacks []fallback
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]CommandHandler),
		actions:  make(map[string]CommandHandler),
	}
}

func (r *Registry) InitModules(modules ...Module) {
	for _, m := range modules {
		name := reflect.TypeOf(m).String()
		log.Info().Str("module", name).Msg("initializing")
		if err := m.Init(r); err != nil {
			log.Error().Err(err).Str("module", name).Msg("initialization failed")
		}
	}
}

func (r *Registry) RegisterCommandHandler(cmd string, handler CommandHandler) {
	r.commands[cmd] = handler
}

// RegisterAction installs the handler for callback data "<action>_<arg>",
// "<action>|<arg>" or just "<action>".
func (r *Registry) RegisterAction(action string, handler CommandHandler) {
	r.actions[action] = handler
}

// RegisterFallback installs a handler for plain messages. Fallbacks are
// tried in registration order and the first match wins.
func (r *Registry) RegisterFallback(match Matcher, handler CommandHandler) {
	r.fallbacks = append(r.fallbacks, fallback{match: match, handler: handler})
}

// Commands returns the registered command names, sorted.
func (r *Registry) Commands() []string {
	cmds := make([]string, 0, len(r.commands))
	for c := range r.commands {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	return cmds
}

func (r *Registry) CommandHandler(cmd string) (CommandHandler, bool) {
	h, ok := r.commands[cmd]
	return h, ok
}

// Lookup picks the handler for an update, and the name it is known by in
// logs and metrics. A nil handler means the update is ignored.
func (r *Registry) Lookup(u *tgbotapi.Update) (string, CommandHandler) {
	switch {
	case u.CallbackQuery != nil:
		action, _ := ParseCallback(u.CallbackQuery.Data)
		if h, ok := r.actions[action]; ok {
			return "cb:" + action, h
		}
		return "cb:invalid", InvalidActionHandler{}
	case u.Message == nil:
		return "", nil
	case u.Message.IsCommand():
		cmd := strings.ToLower(u.Message.Command())
		if h, ok := r.commands[cmd]; ok {
			return cmd, h
		}
		return "invalid", InvalidCommandHandler{Known: r.Commands()}
	}
	for _, f := range r.fallbacks {
		if f.match(u) {
			return "message", f.handler
		}
	}
	return "", nil
}

// ParseCallback splits callback data into action and argument. Data with a
// '|' splits there; otherwise on the first '_'.
func ParseCallback(data string) (string, string) {
	if action, arg, ok := strings.Cut(data, "|"); ok {
		return action, arg
	}
	action, arg, _ := strings.Cut(data, "_")
	return action, arg
}

// CallbackArg is the argument part of a callback update, "" for messages.
func CallbackArg(u *tgbotapi.Update) string {
	if u.CallbackQuery == nil {
		return ""
	}
	_, arg := ParseCallback(u.CallbackQuery.Data)
	return arg
}

// Args is the text after the command, trimmed.
func Args(u *tgbotapi.Update) string {
	if u.Message == nil {
		return ""
	}
	return strings.TrimSpace(u.Message.CommandArguments())
}

// Suggest returns the known command closest to cmd, if it is close enough
// to be a typo.
func Suggest(cmd string, known []string) (string, bool) {
	best, bestDist := "", len(cmd)/2+1
	for _, k := range known {
		if d := levenshtein.Distance(cmd, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, best != ""
}

// For unknown commands.
type InvalidCommandHandler struct {
	Known []string
}

var _ CommandHandler = InvalidCommandHandler{}

func (h InvalidCommandHandler) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	cmd := u.Message.Command()
	msgText := fmt.Sprintf("/%s: unknown command.", cmd)
	if s, ok := Suggest(strings.ToLower(cmd), h.Known); ok {
		msgText += fmt.Sprintf(" Did you mean /%s?", s)
	}
	b.Reply(u.Message.Chat.ID, msgText+" See /help.")
}
func (InvalidCommandHandler) Help() string {
	return "invalid command"
}
func (InvalidCommandHandler) TakesLong() bool {
	return false
}
func (InvalidCommandHandler) RequiresPrivileges() bool {
	return false
}

// For buttons whose action is no longer around, e.g. after a restart.
type InvalidActionHandler struct{}

var _ CommandHandler = InvalidActionHandler{}

func (InvalidActionHandler) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Answer(u, "This button no longer works.")
}
func (InvalidActionHandler) Help() string {
	return "invalid action"
}
func (InvalidActionHandler) TakesLong() bool {
	return false
}
func (InvalidActionHandler) RequiresPrivileges() bool {
	return false
}

// Convenience type to embed in handlers that have a "default" behavior, i.e.,
// don't require special privileges nor do they take longer than otherwise
// acceptable, so they don't have to deal with this boilerplate.
type DefaultCommandHandler struct{}

var _ CommandHandler = DefaultCommandHandler{}

func (DefaultCommandHandler) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Reply(bot.ChatID(u), "Not implemented yet :(")
}
func (DefaultCommandHandler) Help() string {
	return "not implemented"
}
func (DefaultCommandHandler) TakesLong() bool {
	return false
}
func (DefaultCommandHandler) RequiresPrivileges() bool {
	return false
}

// AdminCommandHandler is DefaultCommandHandler for admin-only commands.
type AdminCommandHandler struct {
	DefaultCommandHandler
}

func (AdminCommandHandler) RequiresPrivileges() bool {
	return true
}

// Help lists every command with its help text.
type Help struct {
	DefaultCommandHandler

	registry *Registry
}

func (h *Help) Init(r *Registry) error {
	h.registry = r
	r.RegisterCommandHandler("help", h)
	return nil
}

func (h *Help) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	admin := b.IsAdmin(bot.UserID(u))
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, cmd := range h.registry.Commands() {
		handler := h.registry.commands[cmd]
		if handler.RequiresPrivileges() && !admin {
			continue
		}
		fmt.Fprintf(&sb, "/%s: %s\n", cmd, handler.Help())
	}
	sb.WriteString("\nYou can also just send a link to download it.")
	b.Reply(bot.ChatID(u), sb.String())
}

func (h *Help) Help() string {
	return "this message."
}
