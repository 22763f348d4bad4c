package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	ParseMode      string `json:"parse_mode"`
	DisablePreview bool   `json:"disable_web_page_preview"`
	ThreadID       int64  `json:"message_thread_id"`
}

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{
		Token:    "test-token",
		ChatID:   "42",
		ThreadID: 7,
		AppName:  "dip-bot",
		Env:      "prod",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	tg.baseURL = srv.URL
	return tg
}

func TestTelegram_NotifySendsFramedHTMLMessage(t *testing.T) {
	var gotPath string
	var got sentMessage
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	tg.Notify("worker_start", "engine online <v1>")

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.True(t, got.DisablePreview)
	assert.Equal(t, int64(7), got.ThreadID)

	assert.True(t, strings.HasPrefix(got.Text, "🟢 "), "text %q should open with the start emoji", got.Text)
	assert.Contains(t, got.Text, "<b>dip-bot</b> [prod]")
	assert.Contains(t, got.Text, "<code>worker_start</code>")
	assert.Contains(t, got.Text, "engine online &lt;v1&gt;")
	assert.Contains(t, got.Text, "🕒 <code>")
	assert.Contains(t, got.Text, "UTC</code>")
}

func TestTelegram_NotifyUnknownEventUsesDefaultEmoji(t *testing.T) {
	var got sentMessage
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	tg.Notify("something_new", "")

	assert.True(t, strings.HasPrefix(got.Text, "🔔 "), "text %q should fall back to the bell", got.Text)
	assert.Contains(t, got.Text, "<code>something_new</code>")
}

func TestTelegram_SendDocumentUploadsMultipart(t *testing.T) {
	var gotPath, chatID, caption, threadID, fileName string
	var fileBody []byte
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		chatID = r.FormValue("chat_id")
		caption = r.FormValue("caption")
		threadID = r.FormValue("message_thread_id")

		f, hdr, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		fileName = hdr.Filename
		fileBody, err = io.ReadAll(f)
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	tg.SendDocument("trades.csv", []byte("ts,pair\n1,BTC_USDT\n"), "Trade report")

	assert.Equal(t, "/bottest-token/sendDocument", gotPath)
	assert.Equal(t, "42", chatID)
	assert.Equal(t, "Trade report", caption)
	assert.Equal(t, "7", threadID)
	assert.Equal(t, "trades.csv", fileName)
	assert.Equal(t, "ts,pair\n1,BTC_USDT\n", string(fileBody))
}

func TestTelegram_APIErrorIsSwallowed(t *testing.T) {
	calls := 0
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})

	tg.Notify("error", "boom")
	tg.SendDocument("r.csv", []byte("x"), "")

	assert.Equal(t, 2, calls)
}

func TestThrottle_SuppressesRepeatsWithinCooldown(t *testing.T) {
	th := NewThrottle(time.Hour)

	assert.True(t, th.Allow("auto_resize_buy", "gate:BTC_USDT"))
	assert.False(t, th.Allow("auto_resize_buy", "gate:BTC_USDT"))
	assert.True(t, th.Allow("auto_resize_buy", "gate:ETH_USDT"))
	assert.True(t, th.Allow("min_quote_guard", "gate:BTC_USDT"))
}

func TestThrottle_ReopensAfterCooldown(t *testing.T) {
	th := NewThrottle(10 * time.Millisecond)

	assert.True(t, th.Allow("heartbeat", ""))
	assert.False(t, th.Allow("heartbeat", ""))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, th.Allow("heartbeat", ""))
}
