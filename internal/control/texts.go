package control

import (
	"fmt"
	"strconv"
	"time"

	"rrcounter/internal/counter"
	"rrcounter/pkg/tgui"
)

// Callback data of the control keyboard.
const (
	cbStart        = "start"
	cbStop         = "stop"
	cbHelpInterval = "help_interval"
)

const (
	btnStart    = "▶️ استارت"
	btnStop     = "⏹ پایان"
	btnInterval = "⏱ تنظیم فاصله"
)

const (
	txtAlreadyRunning = "⏳ شمارنده در حال اجراست."
	txtStopped        = "🛑 متوقف شد."
	txtUnauthorized   = "⛔️ دسترسی ندارید."
	txtBusy           = "⏳ مشغول هستم، دوباره تلاش کنید."
)

// secs renders a duration as plain seconds: 1s -> "1", 500ms -> "0.5".
func secs(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func controlsText(lim counter.Limits, senders int) string {
	return fmt.Sprintf("کنترل شمارنده (%d بات نوبتی):\n"+
		"• ▶️ استارت: شروع شمارش از 1 تا %d\n"+
		"• ⏹ پایان: توقف\n\n"+
		"تنظیم فاصله زمانی:\n"+
		"• /interval 2  (هر 2 ثانیه)\n"+
		"• /interval 0.5 (هر نیم ثانیه)\n"+
		"پیش‌فرض: %s ثانیه", senders, lim.MaxCount, secs(lim.DefaultInterval))
}

func startedText(interval time.Duration, senders int) string {
	return fmt.Sprintf("✅ شروع شد. فاصله: %s ثانیه\n(ارسال نوبتی بین %d بات)", secs(interval), senders)
}

func currentIntervalText(d time.Duration) string {
	return fmt.Sprintf("فاصله فعلی: %s ثانیه\nبرای تغییر: /interval 2 یا /interval 0.5", secs(d))
}

func intervalSetText(d time.Duration) string {
	return fmt.Sprintf("✅ فاصله تنظیم شد روی: %s ثانیه", secs(d))
}

func invalidIntervalText(lim counter.Limits) string {
	return fmt.Sprintf("فرمت یا بازه نادرست.\nمثال: /interval 2\nحداقل: %s ثانیه | حداکثر: %s ثانیه",
		secs(lim.MinInterval), secs(lim.MaxInterval))
}

func intervalHelpText(lim counter.Limits) string {
	return fmt.Sprintf("برای تنظیم فاصله زمانی:\n• /interval 2  (هر 2 ثانیه)\n• /interval 0.5 (هر نیم ثانیه)\nحداقل: %s ثانیه", secs(lim.MinInterval))
}

func finishedText(final int) string {
	return fmt.Sprintf("✅ تمام شد. تا %d شمردم.", final)
}

func statusText(s counter.Snapshot, senders int) string {
	state := "متوقف"
	if s.Running {
		state = "در حال اجرا"
	}
	text := fmt.Sprintf("وضعیت شمارنده: %s\n• عدد بعدی: %d\n• فاصله: %s ثانیه\n• بات بعدی: %s (%d از %d)",
		state, s.Current, secs(s.Interval), s.NextSender, s.NextIdentity+1, senders)
	return tgui.Clip(text, tgui.MaxMessageRunes)
}
