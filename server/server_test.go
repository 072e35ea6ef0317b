package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(raw)
}

func TestStatus(t *testing.T) {
	code, body := do(t, Routes(Options{}), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, Running, body)

	_, body = do(t, Routes(Options{Status: "up"}), http.MethodGet, "/", "")
	assert.Equal(t, "up", body)
}

func TestWebhook(t *testing.T) {
	updates := make(chan tgbotapi.Update, 1)
	h := Routes(Options{Updates: updates})

	code, body := do(t, h, http.MethodPost, WebhookURI,
		`{"update_id":10,"message":{"message_id":3,"date":1,"chat":{"id":5,"type":"private"},"text":"/img"}}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"ok":true}`, body)

	require.Len(t, updates, 1)
	u := <-updates
	assert.Equal(t, 10, u.UpdateID)
	assert.Equal(t, "/img", u.Message.Text)
	assert.Equal(t, int64(5), u.Message.Chat.ID)
}

func TestWebhookRejectsGarbage(t *testing.T) {
	updates := make(chan tgbotapi.Update, 1)
	code, _ := do(t, Routes(Options{Updates: updates}), http.MethodPost, WebhookURI, "not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, updates)
}

func TestWebhookDisabledInPollingMode(t *testing.T) {
	code, _ := do(t, Routes(Options{}), http.MethodPost, WebhookURI, "{}")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetrics(t *testing.T) {
	code, _ := do(t, Routes(Options{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := do(t, Routes(Options{Metrics: true}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}
