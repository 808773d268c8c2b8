package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "rrcounter/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileStoreAppendsJSONLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "rr.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := st.AppendAudit(ctx, AuditEntry{At: at, ActorID: 7, ChatID: -100, Action: ActionStart}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{ChatID: -100, Action: ActionInterval, Detail: "0.5s"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: ActionStop}); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "rr.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d", len(got))
	}
	if !got[0].At.Equal(at) || got[0].ActorID != 7 || got[0].Action != ActionStart {
		t.Fatalf("first entry = %+v", got[0])
	}
	if got[1].At.IsZero() || got[1].Detail != "0.5s" {
		t.Fatalf("second entry = %+v", got[1])
	}
}

func TestSQLiteStoreAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit", "rr.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, a := range []string{ActionStart, ActionFinish} {
		if err := st.AppendAudit(ctx, AuditEntry{ChatID: 5, Action: a}); err != nil {
			t.Fatal(err)
		}
	}
	db := st.(*sqliteStore).db
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit WHERE chat_id = 5`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d", n)
	}
	var action string
	if err := db.QueryRowContext(ctx, `SELECT action FROM audit ORDER BY id DESC LIMIT 1`).Scan(&action); err != nil {
		t.Fatal(err)
	}
	if action != ActionFinish {
		t.Fatalf("last action = %q", action)
	}
}
