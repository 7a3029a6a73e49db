package llm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValkeyCache(t *testing.T) {
	addr := os.Getenv("TEST_VALKEY_ADDRESS")
	if addr == "" {
		t.Skip("TEST_VALKEY_ADDRESS が未設定のためスキップします")
	}

	ctx := context.Background()
	cache, err := NewValkeyCache(ctx, addr, os.Getenv("TEST_VALKEY_PASSWORD"))
	if err != nil {
		t.Fatalf("NewValkeyCache failed: %v", err)
	}
	defer cache.Close()

	key := "threadscope:test:" + uuid.NewString()
	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("未保存のキーはミスになるべきです: ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, key, "positive", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := cache.Get(ctx, key)
	if err != nil || !ok || v != "positive" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
}
