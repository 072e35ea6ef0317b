package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	gray   = "\033[37m"
	cyan   = "\033[36m"
)

// Init points the global zerolog logger at the console. Extra writers, the
// supervisor's log file for instance, receive the same events as JSON.
func Init(env string, extra ...io.Writer) {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + reset
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "02.01.2006 15:04:05",
		NoColor:    !color,
		FormatLevel: func(i interface{}) string {
			switch level := strings.ToUpper(fmt.Sprintf("%s", i)); level {
			case "DEBUG", "TRACE":
				return paint(gray, "●")
			case "INFO":
				return paint(blue, "●")
			case "WARN":
				return paint(yellow, "●")
			case "ERROR", "FATAL", "PANIC":
				return paint(red, "●")
			default:
				return level
			}
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("%-35s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return paint(cyan, fmt.Sprintf("%s", i)) + "="
		},
	}

	var out io.Writer = console
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{console}, extra...)...)
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("env", env).
		Logger()

	switch env {
	case "local", "development":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
