// Package delivery sends counter ticks into a chat through a chosen sender
// identity. A Dispatcher queues ticks and a worker pool posts them with a
// Sender, each call bounded by a timeout and never retried.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"rrcounter/internal/identity"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	DefaultTimeout = 20 * time.Second
)

// Job is one tick waiting to be delivered.
type Job struct {
	Identity identity.Identity
	ChatID   int64
	Seq      int
	Text     string
}

// Deliverer posts a text into a chat as the given identity.
type Deliverer interface {
	Deliver(ctx context.Context, id identity.Identity, chatID int64, text string) error
}

// Error is a non-success answer from the Bot API (or a transport failure).
type Error struct {
	Identity    string
	Status      int
	Code        int
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver via %s: %v", e.Identity, e.Err)
	}
	if e.Description != "" {
		return fmt.Sprintf("deliver via %s: %s (code=%d http=%d)", e.Identity, e.Description, e.Code, e.Status)
	}
	return fmt.Sprintf("deliver via %s: http=%d", e.Identity, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was the per-call deadline.
func (e *Error) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// Sender calls sendMessage on the Telegram Bot API directly, one token per identity.
type Sender struct {
	baseURL string
	timeout atomic.Int64
	http    *http.Client
}

func NewSender(baseURL string, timeout time.Duration) *Sender {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	// The per-call context carries the deadline.
	s := &Sender{baseURL: baseURL, http: &http.Client{}}
	s.SetTimeout(timeout)
	return s
}

// SetTimeout changes the per-call deadline for subsequent deliveries.
func (s *Sender) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	s.timeout.Store(int64(d))
}

func (s *Sender) Deliver(ctx context.Context, id identity.Identity, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout.Load()))
	defer cancel()

	b, err := json.Marshal(struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}{ChatID: chatID, Text: text})
	if err != nil {
		return &Error{Identity: id.Name, Err: err}
	}

	url := s.baseURL + "/bot" + id.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return &Error{Identity: id.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// url.Error embeds the token-bearing URL; keep only the cause.
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = errors.Unwrap(err)
		}
		return &Error{Identity: id.Name, Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		return &Error{Identity: id.Name, Status: resp.StatusCode, Code: out.ErrorCode, Description: out.Description}
	}
	return nil
}
