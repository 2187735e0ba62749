// Package services – subscription policy
//
// This file holds the pure tier-gating decision plus the two
// already-authorized billing mutations: plan subscription and credit pack
// purchase. Real payment processing is out of scope; both operations
// assume the charge has been settled upstream.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/repo"
)

const (
	// ProBonusCredits is granted (again) on every pro subscription.
	ProBonusCredits = 50

	// UnlimitedCreditsSentinel is the balance written for the unlimited
	// plan; large enough to read as unmetered everywhere it is displayed.
	UnlimitedCreditsSentinel = 1_000_000
)

// CreditPack is one purchasable entry of the fixed catalog.
type CreditPack struct {
	Credits int
	Label   string
}

// CreditPacks is the fixed pack catalog. Ledger reasons embed the label,
// e.g. "Credit pack: Ultimate Pack".
var CreditPacks = map[string]CreditPack{
	"basic":    {Credits: 20, Label: "Basic Pack"},
	"pro":      {Credits: 50, Label: "Pro Pack"},
	"ultimate": {Credits: 150, Label: "Ultimate Pack"},
}

// HasActiveSubscription is the pure gating rule: unlimited is always
// active, pro is active while the expiry is set and in the future, free is
// never active. Active subscribers bypass the credit capacity check.
func HasActiveSubscription(u *domain.User, now time.Time) bool {
	switch u.SubscriptionTier {
	case domain.TierUnlimited:
		return true
	case domain.TierPro:
		return u.SubscriptionExpires != nil && u.SubscriptionExpires.After(now)
	default:
		return false
	}
}

// Subscribe applies an already-authorized plan change.
//
//   - "pro": tier=pro, expiry = now + 1 calendar month, plus a 50-credit
//     bonus through the ledger. Re-subscribing extends the expiry from now
//     and grants the bonus again; the grant is not deduplicated.
//   - "unlimited": tier=unlimited, no expiry, credits set to the sentinel
//     value. used_credits is untouched and no ledger entry is written; the
//     sentinel is a tier artifact, not a grant.
//
// Returns ErrUnknownPlan for anything else and ErrUserNotFound when the
// account does not exist.
func (s *AccountService) Subscribe(ctx context.Context, userID, planID string, now time.Time) error {
	switch planID {
	case domain.TierPro:
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			expires := now.AddDate(0, 1, 0)
			if err := repo.SetSubscription(ctx, tx, userID, domain.TierPro, &expires, nil); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			if err := repo.AddCredits(ctx, tx, userID, ProBonusCredits); err != nil {
				return err
			}
			_, err := repo.AppendLedgerEntry(ctx, tx, userID, nil, ProBonusCredits, "Subscription bonus")
			return err
		})

	case domain.TierUnlimited:
		credits := UnlimitedCreditsSentinel
		if err := repo.SetSubscription(ctx, s.DB.WithContext(ctx), userID, domain.TierUnlimited, nil, &credits); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return nil

	default:
		return ErrUnknownPlan
	}
}

// BuyCreditPack looks up the fixed catalog, appends the positive ledger
// entry, and increments credits by the pack amount in one transaction.
// Returns ErrUnknownPack for unrecognized ids and ErrUserNotFound when the
// account does not exist.
func (s *AccountService) BuyCreditPack(ctx context.Context, userID, packID string) (*CreditPack, error) {
	pack, ok := CreditPacks[packID]
	if !ok {
		return nil, ErrUnknownPack
	}

	err := s.ApplyDelta(ctx, userID, pack.Credits, fmt.Sprintf("Credit pack: %s", pack.Label), nil)
	if err != nil {
		return nil, err
	}
	return &pack, nil
}
