package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/presence"
)

func TestPresenceTransitions(t *testing.T) {
	tr := presence.NewMemoryTracker(time.Minute)
	ctx := context.Background()

	online, err := tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline failed: %v", err)
	}
	if online {
		t.Error("User should start offline")
	}

	tr.MarkOnline(ctx, "u1")
	if online, _ = tr.IsOnline(ctx, "u1"); !online {
		t.Error("User should be online after MarkOnline")
	}

	tr.MarkOffline(ctx, "u1")
	if online, _ = tr.IsOnline(ctx, "u1"); online {
		t.Error("User should be offline immediately after MarkOffline")
	}
}

func TestPresenceExpiresViaTTL(t *testing.T) {
	tr := presence.NewMemoryTracker(20 * time.Millisecond)
	ctx := context.Background()

	tr.MarkOnline(ctx, "u1")
	time.Sleep(40 * time.Millisecond)

	if online, _ := tr.IsOnline(ctx, "u1"); online {
		t.Error("Presence record should have lapsed via TTL")
	}
}

func TestMarkOnlineRefreshesTTL(t *testing.T) {
	tr := presence.NewMemoryTracker(50 * time.Millisecond)
	ctx := context.Background()

	tr.MarkOnline(ctx, "u1")
	time.Sleep(30 * time.Millisecond)
	tr.MarkOnline(ctx, "u1") // refresh
	time.Sleep(30 * time.Millisecond)

	if online, _ := tr.IsOnline(ctx, "u1"); !online {
		t.Error("Refreshed presence record should still be live")
	}
}
