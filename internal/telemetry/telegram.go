package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Per-event emoji so messages scan at a glance in the chat.
var eventEmoji = map[string]string{
	"worker_start":     "🟢",
	"worker_stop":      "🔴",
	"paused_on":        "⏸️",
	"paused_off":       "▶️",
	"error":            "❗",
	"report":           "📊",
	"pairs_update":     "🧩",
	"params_update":    "🧪",
	"reporting_update": "🗓️",
	"manual_report":    "📤",
	"heartbeat":        "💓",
	"alert_silence":    "🚨",
	"auto_resize_buy":  "📉",
	"min_quote_guard":  "⚠️",
}

// TelegramConfig carries the chat coordinates and message branding.
type TelegramConfig struct {
	Token    string
	ChatID   string
	ThreadID int64 // optional topic inside a supergroup, 0 to disable
	AppName  string
	Env      string
	Logger   *slog.Logger
}

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	cfg       TelegramConfig
	baseURL   string
	msgClient *http.Client
	docClient *http.Client
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.AppName == "" {
		cfg.AppName = "dip-bot"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		cfg:       cfg,
		baseURL:   defaultAPIBase,
		msgClient: &http.Client{Timeout: 15 * time.Second},
		docClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Telegram) Notify(event, message string) {
	payload := map[string]any{
		"chat_id":                  t.cfg.ChatID,
		"text":                     t.compose(event, message),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if t.cfg.ThreadID != 0 {
		payload["message_thread_id"] = t.cfg.ThreadID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		t.cfg.Logger.Warn("telegram: encode message", "event", event, "err", err)
		return
	}

	resp, err := t.msgClient.Post(t.endpoint("sendMessage"), "application/json", bytes.NewReader(body))
	if err != nil {
		t.cfg.Logger.Warn("telegram: send message", "event", event, "err", err)
		return
	}
	t.drain(resp, "sendMessage", event)
}

func (t *Telegram) SendDocument(name string, payload []byte, caption string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", t.cfg.ChatID)
	if caption != "" {
		_ = w.WriteField("caption", caption)
	}
	if t.cfg.ThreadID != 0 {
		_ = w.WriteField("message_thread_id", strconv.FormatInt(t.cfg.ThreadID, 10))
	}
	fw, err := w.CreateFormFile("document", name)
	if err == nil {
		_, err = fw.Write(payload)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		t.cfg.Logger.Warn("telegram: build document upload", "name", name, "err", err)
		return
	}

	resp, err := t.docClient.Post(t.endpoint("sendDocument"), w.FormDataContentType(), &buf)
	if err != nil {
		t.cfg.Logger.Warn("telegram: send document", "name", name, "err", err)
		return
	}
	t.drain(resp, "sendDocument", name)
}

// compose renders the shared message frame: emoji, app banner, event tag,
// body, UTC timestamp. Variable parts are HTML-escaped; the frame is not.
func (t *Telegram) compose(event, message string) string {
	emoji, ok := eventEmoji[event]
	if !ok {
		emoji = "🔔"
	}

	var b strings.Builder
	b.WriteString(emoji)
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(t.cfg.AppName))
	b.WriteString("</b>")
	if t.cfg.Env != "" {
		fmt.Fprintf(&b, " [%s]", html.EscapeString(t.cfg.Env))
	}
	fmt.Fprintf(&b, " — <code>%s</code>\n", html.EscapeString(event))
	if message != "" {
		b.WriteString(html.EscapeString(message))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "🕒 <code>%s</code>", time.Now().UTC().Format("2006-01-02 15:04:05")+" UTC")
	return b.String()
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.cfg.Token, method)
}

func (t *Telegram) drain(resp *http.Response, method, subject string) {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	t.cfg.Logger.Warn("telegram API returned non-OK status",
		"method", method, "subject", subject, "status", resp.StatusCode, "body", string(detail))
}
