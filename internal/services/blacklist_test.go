package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestTokenBlacklist_AddAndContains(t *testing.T) {
	_, client := newTestRedis(t)
	bl := NewTokenBlacklist(client)
	ctx := context.Background()

	found, err := bl.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if found {
		t.Error("fresh jti should not be blacklisted")
	}

	if err := bl.Add(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	found, err = bl.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !found {
		t.Error("jti should be blacklisted after Add")
	}
}

func TestTokenBlacklist_EntryExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	bl := NewTokenBlacklist(client)
	ctx := context.Background()

	if err := bl.Add(ctx, "jti-2", time.Minute); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	found, err := bl.Contains(ctx, "jti-2")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if found {
		t.Error("entry should expire with the token")
	}
}

func TestTokenBlacklist_NonPositiveTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	bl := NewTokenBlacklist(client)
	ctx := context.Background()

	if err := bl.Add(ctx, "jti-3", 0); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if mr.Exists(blacklistKeyPrefix + "jti-3") {
		t.Error("expired token should not be recorded")
	}
}

func TestTokenBlacklist_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	bl := NewTokenBlacklist(client)
	ctx := context.Background()

	mr.Close()

	if err := bl.Add(ctx, "jti-4", time.Minute); err == nil {
		t.Error("Add() should surface redis errors")
	}
	if _, err := bl.Contains(ctx, "jti-4"); err == nil {
		t.Error("Contains() should surface redis errors so callers fail closed")
	}
}
