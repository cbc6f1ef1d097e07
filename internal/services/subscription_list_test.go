package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"subtrack/internal/core"
)

func TestSubscriptionListReadsOwnWritesWithoutRefetch(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	list := NewSubscriptionList(NewSubscriptionService(store, nil, nil), "user-1")

	later := netflix()
	later.RenewalDate = core.NewDate(2025, 4, 1)
	first, err := list.Create(ctx, later)
	if err != nil {
		t.Fatal(err)
	}
	sooner := netflix()
	sooner.Name = "Spotify"
	second, err := list.Create(ctx, sooner)
	if err != nil {
		t.Fatal(err)
	}

	items, err := list.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(items); !equalIDs(got, []string{second.ID, first.ID}) {
		t.Fatalf("Items() = %v, want sorted by renewal", got)
	}

	amount := core.Money{Cents: 1799}
	if _, err := list.Update(ctx, first.ID, core.SubscriptionPatch{Amount: &amount}); err != nil {
		t.Fatal(err)
	}
	if err := list.Delete(ctx, second.ID); err != nil {
		t.Fatal(err)
	}

	items, _ = list.Items(ctx)
	if len(items) != 1 || items[0].ID != first.ID || items[0].Amount != amount {
		t.Fatalf("Items() = %+v", items)
	}

	lists := 0
	for _, c := range store.Calls() {
		if c == "list" {
			lists++
		}
	}
	if lists != 1 {
		t.Errorf("store listed %d times, want only the initial load", lists)
	}
}

func TestSubscriptionListIsSessionLocal(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)
	mine := NewSubscriptionList(svc, "user-1")
	other := NewSubscriptionList(svc, "user-1")

	if _, err := mine.Items(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := other.Create(ctx, netflix()); err != nil {
		t.Fatal(err)
	}

	items, _ := mine.Items(ctx)
	if len(items) != 0 {
		t.Fatalf("other session's write visible before refresh: %v", items)
	}
	if err := mine.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ = mine.Items(ctx)
	if len(items) != 1 {
		t.Fatalf("Items() after Refresh = %v", items)
	}
}

func TestSubscriptionListReloadsAfterMaxAge(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mine := NewSubscriptionList(svc, "user-1", WithMaxAge(time.Minute), WithListClock(func() time.Time { return now }))
	other := NewSubscriptionList(svc, "user-1")

	if _, err := mine.Items(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := other.Create(ctx, netflix()); err != nil {
		t.Fatal(err)
	}

	now = now.Add(59 * time.Second)
	if items, _ := mine.Items(ctx); len(items) != 0 {
		t.Fatalf("reloaded before max age: %v", items)
	}
	now = now.Add(time.Second)
	if items, _ := mine.Items(ctx); len(items) != 1 {
		t.Fatalf("Items() after max age = %v, want the other session's row", items)
	}
}

func TestSubscriptionListDropsRowsGoneFromStore(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)
	mine := NewSubscriptionList(svc, "user-1")
	other := NewSubscriptionList(svc, "user-1")

	created, err := mine.Create(ctx, netflix())
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	if err := mine.Delete(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
	items, _ := mine.Items(ctx)
	if len(items) != 0 {
		t.Fatalf("stale row kept: %v", items)
	}
}

func TestSubscriptionListFailedWriteLeavesProjection(t *testing.T) {
	ctx := context.Background()
	list := NewSubscriptionList(NewSubscriptionService(newSpyStore(), nil, nil), "user-1")
	if _, err := list.Create(ctx, netflix()); err != nil {
		t.Fatal(err)
	}

	bad := netflix()
	bad.Amount = core.Money{}
	if _, err := list.Create(ctx, bad); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("Create() error = %v", err)
	}
	items, _ := list.Items(ctx)
	if len(items) != 1 {
		t.Fatalf("Items() = %v", items)
	}

	overview, err := list.Overview(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 30, 5)
	if err != nil {
		t.Fatal(err)
	}
	if overview.ActiveCount != 1 || len(overview.Upcoming) != 1 {
		t.Fatalf("Overview() = %+v", overview)
	}
}

func TestSessionLists(t *testing.T) {
	svc := NewSubscriptionService(newSpyStore(), nil, nil)
	lists := NewSessionLists(svc, 2, time.Hour)

	a := lists.For("session-a", "user-1")
	if lists.For("session-a", "user-1") != a {
		t.Fatal("For() should return the same list for a session")
	}
	if lists.For("session-a", "user-2") == a {
		t.Fatal("For() must not hand a list to another user")
	}

	lists.For("session-b", "user-1")
	lists.Forget("session-b")
	if lists.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", lists.Len())
	}

	lists.For("session-c", "user-3")
	lists.For("session-d", "user-4")
	if lists.Len() != 2 {
		t.Fatalf("Len() = %d, want bounded at 2", lists.Len())
	}
}
