package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/repo"
)

// ---------- HasActiveSubscription ----------

func TestHasActiveSubscription(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		user domain.User
		want bool
	}{
		{"free never active", domain.User{SubscriptionTier: domain.TierFree}, false},
		{"unlimited always active", domain.User{SubscriptionTier: domain.TierUnlimited}, true},
		{"pro with future expiry", domain.User{SubscriptionTier: domain.TierPro, SubscriptionExpires: &future}, true},
		{"pro expired", domain.User{SubscriptionTier: domain.TierPro, SubscriptionExpires: &past}, false},
		{"pro without expiry", domain.User{SubscriptionTier: domain.TierPro}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasActiveSubscription(&tc.user, now); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

// ---------- Subscribe ----------

func TestSubscribe_Pro_GrantsBonusAndMonthTerm(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 5)
	ctx := context.Background()
	now := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

	if err := s.Subscribe(ctx, u.ID, domain.TierPro, now); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got, err := repo.GetUser(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SubscriptionTier != domain.TierPro {
		t.Fatalf("tier = %q", got.SubscriptionTier)
	}
	// Calendar month, not 30 days: Jan 31 + 1 month normalizes per AddDate.
	wantExp := now.AddDate(0, 1, 0)
	if got.SubscriptionExpires == nil || !got.SubscriptionExpires.Equal(wantExp) {
		t.Fatalf("expiry = %v, want %v", got.SubscriptionExpires, wantExp)
	}
	if got.Credits != 5+ProBonusCredits {
		t.Fatalf("credits = %d, want %d", got.Credits, 5+ProBonusCredits)
	}

	entries, err := repo.ListLedgerEntries(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Delta != ProBonusCredits || entries[0].Reason != "Subscription bonus" {
		t.Fatalf("bonus ledger entry unexpected: %+v", entries)
	}
}

func TestSubscribe_Pro_ResubscribeGrantsBonusAgain(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Subscribe(ctx, u.ID, domain.TierPro, now); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.Subscribe(ctx, u.ID, domain.TierPro, now.Add(time.Hour)); err != nil {
		t.Fatalf("second: %v", err)
	}

	got, _ := repo.GetUser(ctx, db, u.ID)
	if got.Credits != 2*ProBonusCredits {
		t.Fatalf("re-subscribe should re-grant bonus: credits=%d", got.Credits)
	}
	entries, _ := repo.ListLedgerEntries(ctx, db, u.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 bonus entries, got %d", len(entries))
	}
}

func TestSubscribe_Unlimited_SentinelNoLedger(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 3)
	ctx := context.Background()

	if err := repo.SpendCredits(ctx, db, u.ID, 2); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := s.Subscribe(ctx, u.ID, domain.TierUnlimited, time.Now().UTC()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got, _ := repo.GetUser(ctx, db, u.ID)
	if got.SubscriptionTier != domain.TierUnlimited || got.SubscriptionExpires != nil {
		t.Fatalf("tier/expiry unexpected: %q %v", got.SubscriptionTier, got.SubscriptionExpires)
	}
	if got.Credits != UnlimitedCreditsSentinel {
		t.Fatalf("credits = %d, want sentinel", got.Credits)
	}
	// used_credits survives; the sentinel is a tier artifact, not a grant.
	if got.UsedCredits != 2 {
		t.Fatalf("used_credits = %d, want 2", got.UsedCredits)
	}
	entries, _ := repo.ListLedgerEntries(ctx, db, u.ID)
	if len(entries) != 0 {
		t.Fatalf("unlimited must not write ledger entries, got %d", len(entries))
	}
}

func TestSubscribe_UnknownPlan(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 5)
	if err := s.Subscribe(context.Background(), u.ID, "platinum", time.Now()); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestSubscribe_UserNotFound(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	if err := s.Subscribe(context.Background(), "nope", domain.TierPro, time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.Subscribe(context.Background(), "nope", domain.TierUnlimited, time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for unlimited, got %v", err)
	}
}

// ---------- BuyCreditPack ----------

func TestBuyCreditPack_CatalogAndLedgerReason(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 0)
	ctx := context.Background()

	pack, err := s.BuyCreditPack(ctx, u.ID, "ultimate")
	if err != nil {
		t.Fatalf("BuyCreditPack: %v", err)
	}
	if pack.Credits != 150 || pack.Label != "Ultimate Pack" {
		t.Fatalf("pack unexpected: %+v", pack)
	}

	got, _ := repo.GetUser(ctx, db, u.ID)
	if got.Credits != 150 {
		t.Fatalf("credits = %d, want 150", got.Credits)
	}
	entries, _ := repo.ListLedgerEntries(ctx, db, u.ID)
	if len(entries) != 1 || entries[0].Reason != "Credit pack: Ultimate Pack" || entries[0].Delta != 150 {
		t.Fatalf("ledger entry unexpected: %+v", entries)
	}
}

func TestBuyCreditPack_AvailableToActiveSubscribers(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 0)
	ctx := context.Background()

	if err := s.Subscribe(ctx, u.ID, domain.TierUnlimited, time.Now().UTC()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.BuyCreditPack(ctx, u.ID, "basic"); err != nil {
		t.Fatalf("pack purchase on unlimited tier should succeed: %v", err)
	}
	got, _ := repo.GetUser(ctx, db, u.ID)
	if got.Credits != UnlimitedCreditsSentinel+20 {
		t.Fatalf("credits = %d", got.Credits)
	}
}

func TestBuyCreditPack_UnknownPack(t *testing.T) {
	db := newSvcDB(t)
	s := NewAccountService(db)
	u := seedUser(t, db, 0)
	if _, err := s.BuyCreditPack(context.Background(), u.ID, "mega"); !errors.Is(err, ErrUnknownPack) {
		t.Fatalf("expected ErrUnknownPack, got %v", err)
	}
}
