package adapter

import (
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "rrcounter/internal/transport"
	logx "rrcounter/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	line := strings.Repeat("a", 6)
	text := strings.Join([]string{line, line, line, line}, "\n") // 27 runes
	got := splitTelegramText(text, 14, "")
	for _, c := range got {
		if n := len([]rune(c)); n > 14 {
			t.Fatalf("chunk too long (%d): %q", n, c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.ReplaceAll(strings.Join(got, ""), "\n", "") != strings.Repeat("a", 24) {
		t.Fatalf("content lost: %q", got)
	}
}

func TestSplitTelegramTextHTML(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("abcdefgh<b>bold</b>", 10, "HTML")
	if len(got) < 2 || got[0] != "abcdefgh" {
		t.Fatalf("split inside tag: %q", got)
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	t.Parallel()
	got := splitTelegramText(strings.Repeat("ی", 25), 10, "")
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("rune split = %q", got)
	}
}

func TestWebhookURL(t *testing.T) {
	t.Parallel()
	wh := WebhookConfig{Enabled: true, PublicURL: "https://bot.example.com", Path: "/telegram/webhook"}
	if wh.URL() != "https://bot.example.com/telegram/webhook" {
		t.Fatalf("URL() = %q", wh.URL())
	}
	p, ok := poller(Config{Webhook: wh}).(*tele.Webhook)
	if !ok || p.Endpoint == nil || p.Endpoint.PublicURL != wh.URL() {
		t.Fatalf("poller = %#v", p)
	}
	if _, ok := poller(Config{}).(*tele.LongPoller); !ok {
		t.Fatal("default poller is not a long poller")
	}
}

func TestHandlersForwardUpdates(t *testing.T) {
	t.Parallel()
	a, err := newAdapter(Config{Token: "123:abc"}, logx.Nop(), true)
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan kit.Update, 4)
	a.out.Store((chan<- kit.Update)(ch))

	a.bot.ProcessUpdate(tele.Update{Message: &tele.Message{
		ID: 1, Text: "/interval 2", Chat: &tele.Chat{ID: 55}, Sender: &tele.User{ID: 7, Username: "u"},
	}})
	a.bot.ProcessUpdate(tele.Update{Callback: &tele.Callback{
		ID: "cb1", Data: "stop", Sender: &tele.User{ID: 7},
		Message: &tele.Message{ID: 2, Chat: &tele.Chat{ID: 55}},
	}})

	var msg, cb *kit.Update
	timeout := time.After(2 * time.Second)
	for msg == nil || cb == nil {
		select {
		case up := <-ch:
			switch up.Kind {
			case kit.UpdateMessage:
				msg = &up
			case kit.UpdateCallback:
				cb = &up
			}
		case <-timeout:
			t.Fatal("updates not forwarded")
		}
	}
	if msg.Message.Text != "/interval 2" || msg.Message.ChatID != 55 || msg.Message.FromID != 7 {
		t.Fatalf("message = %+v", msg.Message)
	}
	if cb.Callback.Data != "stop" || cb.Callback.ID != "cb1" || cb.Callback.ChatID != 55 {
		t.Fatalf("callback = %+v", cb.Callback)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
