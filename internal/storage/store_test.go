package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"memoai/internal/crypto"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "memo.db")
	s, err := Open(context.Background(), "sqlite3", dsn, true)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "memoai:"), mr
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "memo_ai_draft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := s.Set(ctx, "memo_ai_draft", "buy milk"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "memo_ai_draft", "buy oat milk"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Get(ctx, "memo_ai_draft")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "buy oat milk" {
		t.Fatalf("expected overwritten value, got %q", got)
	}
	if err := s.Delete(ctx, "memo_ai_draft"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "memo_ai_draft"); err != nil {
		t.Fatalf("delete of missing key should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, "memo_ai_draft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLStore(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestSQLStoreKeys(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	for _, k := range []string{"memo_ai_prompt_b", "memo_ai_prompt_a", "memo_ai_draft", "memoXaiXpromptXc"} {
		if err := s.Set(ctx, k, "v"); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "memo_ai_prompt_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "memo_ai_prompt_a" || keys[1] != "memo_ai_prompt_b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x", true); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), "sqlite", "", true); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestRedisStore(t *testing.T) {
	s, mr := openRedis(t)
	exerciseStore(t, s)

	if err := s.Set(context.Background(), "memo_ai_last_target", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := mr.Get("memoai:memo_ai_last_target"); err != nil || got != "a" {
		t.Fatalf("expected prefixed key in redis, got %q, %v", got, err)
	}
	if ttl := mr.TTL("memoai:memo_ai_last_target"); ttl != 0 {
		t.Fatalf("expected no redis ttl, got %v", ttl)
	}
}

func TestRedisStoreKeys(t *testing.T) {
	s, mr := openRedis(t)
	ctx := context.Background()
	_ = s.Set(ctx, "memo_ai_prompt_b", "2")
	_ = s.Set(ctx, "memo_ai_prompt_a", "1")
	_ = s.Set(ctx, "memo_ai_draft", "x")
	_ = mr.Set("other:memo_ai_prompt_c", "3")

	keys, err := s.Keys(ctx, "memo_ai_prompt_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "memo_ai_prompt_a" || keys[1] != "memo_ai_prompt_b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestMemoryStoreKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "memo_ai_schema_2", "{}")
	_ = s.Set(ctx, "memo_ai_schema_1", "{}")
	_ = s.Set(ctx, "memo_ai_targets", "{}")

	keys, _ := s.Keys(ctx, "memo_ai_schema_")
	if len(keys) != 2 || keys[0] != "memo_ai_schema_1" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSealedStore(t *testing.T) {
	m, err := crypto.NewManager("k1", map[string][]byte{"k1": make([]byte, 32)})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	inner := NewMemoryStore()
	s := NewSealedStore(inner, m)
	exerciseStore(t, s)

	ctx := context.Background()
	if err := s.Set(ctx, "memo_ai_chat_history", `[{"message":"secret"}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, _ := inner.Get(ctx, "memo_ai_chat_history")
	if strings.Contains(raw, "secret") {
		t.Fatalf("inner store holds plaintext: %q", raw)
	}

	_ = inner.Set(ctx, "memo_ai_draft", "written before sealing")
	if _, err := s.Get(ctx, "memo_ai_draft"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected open error for unsealed entry, got %v", err)
	}
}

func TestSealedStoreRotate(t *testing.T) {
	oldKey := make([]byte, 32)
	newKey := make([]byte, 32)
	newKey[0] = 1

	oldM, _ := crypto.NewManager("old", map[string][]byte{"old": oldKey})
	inner := NewMemoryStore()
	ctx := context.Background()
	if err := NewSealedStore(inner, oldM).Set(ctx, "memo_ai_draft", "note"); err != nil {
		t.Fatalf("seal with old key: %v", err)
	}

	newM, _ := crypto.NewManager("new", map[string][]byte{"old": oldKey, "new": newKey})
	s := NewSealedStore(inner, newM)
	n, err := s.Rotate(ctx, []string{"memo_ai_draft", "memo_ai_missing"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rotated entry, got %d", n)
	}
	raw, _ := inner.Get(ctx, "memo_ai_draft")
	if !strings.HasPrefix(raw, "m1.new.") {
		t.Fatalf("expected entry sealed under new key, got %q", raw)
	}
	if got, err := s.Get(ctx, "memo_ai_draft"); err != nil || got != "note" {
		t.Fatalf("unexpected value after rotation %q, %v", got, err)
	}
}
