package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rrcounter/internal/identity"
)

func TestSenderDeliverOK(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	s := NewSender(srv.URL+"/", time.Second)
	err := s.Deliver(context.Background(), identity.Identity{Name: "bot2", Token: "123:abc"}, -100, "1 - یک")
	if err != nil {
		t.Fatalf("Deliver() = %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != float64(-100) || gotBody["text"] != "1 - یک" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestSenderDeliverAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member"}`))
	}))
	defer srv.Close()

	err := NewSender(srv.URL, time.Second).Deliver(context.Background(), identity.Identity{Name: "bot3", Token: "secret"}, 1, "x")
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("err = %T %v, want *Error", err, err)
	}
	if de.Status != http.StatusForbidden || de.Code != 403 || de.Identity != "bot3" {
		t.Fatalf("unexpected error fields: %+v", de)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks token: %v", err)
	}
}

func TestSenderDeliverTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewSender(srv.URL, 50*time.Millisecond).Deliver(context.Background(), identity.Identity{Name: "bot1", Token: "secret"}, 1, "x")
	var de *Error
	if !errors.As(err, &de) || !de.Timeout() {
		t.Fatalf("err = %v, want timeout *Error", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks token: %v", err)
	}
}
