package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/metrics"
)

const (
	Running    = "✅ Telegram Bot is running!"
	maxUpdate  = 1 << 20
	WebhookURI = "/webhook"
)

type Options struct {
	// Where webhook updates go. Nil disables the webhook route.
	Updates chan<- tgbotapi.Update
	// Serve /metrics.
	Metrics bool
	// Body of GET /.
	Status string
}

// Routes builds the HTTP surface of the bot: liveness, metrics and the
// Telegram webhook.
func Routes(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	status := opts.Status
	if status == "" {
		status = Running
	}
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(status))
	})

	if opts.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}
	if opts.Updates != nil {
		r.Post(WebhookURI, webhook(opts.Updates))
	}
	return r
}

func webhook(updates chan<- tgbotapi.Update) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u tgbotapi.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdate)).Decode(&u); err != nil {
			log.Warn().Err(err).Msg("bad webhook body")
			metrics.Updates.WithLabelValues("webhook", "malformed").Inc()
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		select {
		case updates <- u:
		case <-r.Context().Done():
			// Telegram retries anything that is not a 2xx.
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func New(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
