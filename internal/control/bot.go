// Package control is the controller bot's command surface: it turns
// commands and inline-button clicks into counter operations and replies in
// the chat.
package control

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rrcounter/internal/counter"
	rtsup "rrcounter/internal/runtime/supervisor"
	"rrcounter/internal/storage"
	kit "rrcounter/internal/transport"
	logx "rrcounter/pkg/logx"
)

// Counter is the part of the counter service the controller drives.
type Counter interface {
	Start(chatID int64) (counter.Snapshot, error)
	Stop(chatID int64) counter.Snapshot
	SetInterval(chatID int64, raw string) (time.Duration, error)
	Interval(chatID int64) time.Duration
	Snapshot(chatID int64) counter.Snapshot
	Limits() counter.Limits
	IdentityCount() int
}

// Auditor records control actions. Optional.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// Owners restricts every command and button to these user ids. Empty
	// means everyone.
	Owners  []int64
	Workers int
	Timeout time.Duration
}

type Command struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string
	Logger       logx.Logger
}

type Bot struct {
	log     logx.Logger
	adapter kit.Adapter
	counter Counter
	audit   Auditor

	mu     sync.RWMutex
	owners []int64

	cmds      map[string]Command
	order     []string
	callbacks map[string]HandlerFunc
	keyboard  any

	workers int
	timeout time.Duration
	jobs    chan func()
}

func New(cfg Config, ad kit.Adapter, c Counter, audit Auditor, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	b := &Bot{
		log:     log,
		adapter: ad,
		counter: c,
		audit:   audit,
		owners:  append([]int64(nil), cfg.Owners...),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		jobs:    make(chan func(), 256),
	}
	b.register()
	return b
}

// SetOwners swaps the allowlist. Safe during hot reload.
func (b *Bot) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	b.mu.Lock()
	b.owners = cp
	b.mu.Unlock()
}

func (b *Bot) allowed(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.owners) == 0 {
		return true
	}
	for _, o := range b.owners {
		if o == userID {
			return true
		}
	}
	return false
}

// Commands returns the command menu in registration order.
func (b *Bot) Commands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, kit.BotCommand{Command: name, Description: b.cmds[name].Description})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed. Requests run
// on a small worker pool; when it is saturated the user gets a busy reply.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "control.workers"))),
		rtsup.WithCancelOnError(false),
	)
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		b.log.Info("control stopped")
	}()

	for i := 0; i < b.workers; i++ {
		idx := i
		sup.GoRestart("control.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-b.jobs:
					b.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	if up, ok := b.adapter.(kit.CommandMenuUpdater); ok {
		sup.Go("telegram.menu.update", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, b.Commands()); err != nil {
				b.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	b.log.Info("control started", logx.Int("workers", b.workers))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(ctx, up)
		}
	}
}

func (b *Bot) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in control job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (b *Bot) tryEnqueue(fn func()) bool {
	select {
	case b.jobs <- fn:
		return true
	default:
		return false
	}
}

func (b *Bot) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		b.routeMessage(ctx, up)
	case kit.UpdateCallback:
		b.routeCallback(ctx, up)
	}
}

func (b *Bot) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := b.cmds[word]
	if !ok {
		return
	}

	req := b.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID, "/"+word)
	req.FromUsername = msg.FromUsername
	req.Args = parts[1:]

	if !b.allowed(msg.FromID) {
		req.Logger.Warn("unauthorized command")
		b.reply(ctx, req, txtUnauthorized, nil)
		return
	}
	h := b.wrap(cmd.Handle)
	if !b.tryEnqueue(func() { _ = h(ctx, req) }) {
		b.reply(ctx, req, txtBusy, nil)
	}
}

func (b *Bot) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	handle, ok := b.callbacks[cb.Data]
	if !ok {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !b.allowed(cb.FromID) {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, txtUnauthorized)
		return
	}
	req := b.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+cb.Data)
	h := b.wrap(handle)
	if !b.tryEnqueue(func() {
		// stop the button spinner first
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		_ = h(ctx, req)
	}) {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, txtBusy)
	}
}

func (b *Bot) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		ReqID:   rid,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (b *Bot) wrap(h HandlerFunc) HandlerFunc {
	return Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(b.timeout))
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, markup any) {
	opt := &kit.SendOptions{DisablePreview: true, ReplyMarkupAdapter: markup}
	if _, err := b.adapter.SendText(ctx, req.Chat, text, opt); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (b *Bot) record(ctx context.Context, req *Request, action, detail string, err error) {
	if b.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Detail:        detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := b.audit.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

// NotifyCompletion announces a finished run through the controller bot.
func (b *Bot) NotifyCompletion(ctx context.Context, chatID int64, finalCount int) error {
	to := kit.ChatTarget{ChatID: chatID}
	_, err := b.adapter.SendText(ctx, to, finishedText(finalCount), &kit.SendOptions{DisablePreview: true})
	if b.audit != nil {
		e := storage.AuditEntry{At: time.Now(), ChatID: chatID, Action: storage.ActionFinish, Detail: strconv.Itoa(finalCount)}
		if err != nil {
			e.Error = err.Error()
		}
		if aerr := b.audit.AppendAudit(ctx, e); aerr != nil {
			b.log.Warn("audit append failed", logx.Int64("chat_id", chatID), logx.Err(aerr))
		}
	}
	if err != nil {
		return fmt.Errorf("completion notice: %w", err)
	}
	return nil
}

var ridSeq atomic.Uint64

// newReqID is short and unique enough for log correlation.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + strconv.Itoa(rand.Intn(10))
}
