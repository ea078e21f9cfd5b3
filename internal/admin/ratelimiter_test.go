package admin

import (
	"testing"
	"time"
)

func TestMutationLimiterWindow(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMutationLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow("start_game") || !limiter.Allow("start_game") {
		t.Fatal("expected first two calls to be allowed")
	}
	if limiter.Allow("start_game") {
		t.Fatal("expected third call to be denied")
	}

	now = now.Add(30 * time.Second)
	if limiter.Allow("start_game") {
		t.Fatal("expected call within window to still be denied")
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow("start_game") {
		t.Fatal("expected limiter to permit call after window passes")
	}
}

func TestMutationLimiterIsolatesOperations(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMutationLimiter(time.Minute, 1, func() time.Time { return now })

	if !limiter.Allow("create_lobby") {
		t.Fatal("expected first create to be allowed")
	}
	if limiter.Allow("create_lobby") {
		t.Fatal("expected second create to be denied")
	}
	//1.- A saturated create window must not block ending a stuck session.
	if !limiter.Allow("end_game") {
		t.Fatal("expected end_game to have its own window")
	}
}

func TestMutationLimiterDisabled(t *testing.T) {
	if !NewMutationLimiter(0, 0, nil).Allow("start_game") {
		t.Fatal("limiter with zero configuration should allow")
	}
}
