package control

import (
	"context"
	"errors"
	"strconv"

	"rrcounter/internal/counter"
	"rrcounter/internal/storage"
	logx "rrcounter/pkg/logx"
	"rrcounter/pkg/tgui"
)

func (b *Bot) register() {
	b.cmds = map[string]Command{}
	add := func(c Command) {
		b.cmds[c.Name] = c
		b.order = append(b.order, c.Name)
	}
	add(Command{Name: "start", Description: "نمایش دکمه‌های کنترل", Handle: b.handleControls})
	add(Command{Name: "help", Description: "راهنما", Handle: b.handleControls})
	add(Command{Name: "interval", Description: "تنظیم فاصله زمانی (ثانیه)", Handle: b.handleInterval})
	add(Command{Name: "status", Description: "وضعیت شمارنده", Handle: b.handleStatus})

	b.callbacks = map[string]HandlerFunc{
		cbStart:        b.handleStartCounter,
		cbStop:         b.handleStopCounter,
		cbHelpInterval: b.handleIntervalHelp,
	}

	kb := controlsKeyboard()
	if err := kb.Err(); err != nil {
		b.log.Error("control keyboard disabled", logx.Err(err))
		return
	}
	b.keyboard = kb.Markup()
}

func controlsKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(btnStart, cbStart), tgui.Btn(btnStop, cbStop)).
		Row(tgui.Btn(btnInterval, cbHelpInterval))
}

func (b *Bot) handleControls(ctx context.Context, req *Request) error {
	b.reply(ctx, req, controlsText(b.counter.Limits(), b.counter.IdentityCount()), b.keyboard)
	return nil
}

func (b *Bot) handleInterval(ctx context.Context, req *Request) error {
	chatID := req.Chat.ChatID
	if len(req.Args) == 0 {
		b.reply(ctx, req, currentIntervalText(b.counter.Interval(chatID)), nil)
		return nil
	}
	// trailing words such as a unit are ignored
	raw := req.Args[0]
	d, err := b.counter.SetInterval(chatID, raw)
	b.record(ctx, req, storage.ActionInterval, raw, err)
	if err != nil {
		var ve *counter.ValidationError
		if errors.As(err, &ve) {
			req.Logger.Debug("interval rejected", logx.String("input", ve.Input), logx.String("reason", ve.Reason))
			b.reply(ctx, req, invalidIntervalText(b.counter.Limits()), nil)
			return nil
		}
		return err
	}
	b.reply(ctx, req, intervalSetText(d), nil)
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	b.reply(ctx, req, statusText(b.counter.Snapshot(req.Chat.ChatID), b.counter.IdentityCount()), nil)
	return nil
}

func (b *Bot) handleStartCounter(ctx context.Context, req *Request) error {
	snap, err := b.counter.Start(req.Chat.ChatID)
	if errors.Is(err, counter.ErrAlreadyRunning) {
		b.reply(ctx, req, txtAlreadyRunning, nil)
		return nil
	}
	b.record(ctx, req, storage.ActionStart, secs(snap.Interval), err)
	if err != nil {
		return err
	}
	b.reply(ctx, req, startedText(snap.Interval, b.counter.IdentityCount()), nil)
	return nil
}

func (b *Bot) handleStopCounter(ctx context.Context, req *Request) error {
	snap := b.counter.Stop(req.Chat.ChatID)
	b.record(ctx, req, storage.ActionStop, strconv.Itoa(snap.Current-1), nil)
	b.reply(ctx, req, txtStopped, nil)
	return nil
}

func (b *Bot) handleIntervalHelp(ctx context.Context, req *Request) error {
	b.reply(ctx, req, intervalHelpText(b.counter.Limits()), nil)
	return nil
}
