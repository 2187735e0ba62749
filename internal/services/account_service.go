// Package services – AccountService
//
// This file implements the AccountService, which owns the credit ledger:
// balance queries, atomic signed-delta mutations, idempotent account
// creation on first sign-in, and account deletion. The two balance
// counters are strictly separated (positive deltas raise credits,
// negative deltas raise used_credits) so total-granted and total-spent
// remain independently reconstructable from the users row alone, and the
// full history from the ledger.
//
// Service-level errors (e.g., ErrUserNotFound, ErrInvalidDelta) are
// returned for predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/notify"
	"github.com/tbourn/go-study-backend/internal/repo"
)

// Balance is the ledger view of one account. Remaining may be negative;
// display layers clamp it, capacity checks must not.
type Balance struct {
	Credits             int        `json:"credits"`
	UsedCredits         int        `json:"used_credits"`
	Remaining           int        `json:"remaining"`
	SubscriptionTier    string     `json:"subscription_tier"`
	SubscriptionExpires *time.Time `json:"subscription_expires"`
	ActiveSubscription  bool       `json:"active_subscription"`
}

// AccountService provides account-level operations: balance reads, ledger
// mutations, subscription and pack purchases (see subscription.go), and
// lifecycle (first-sign-in upsert, deletion).
type AccountService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Events receives best-effort lifecycle notifications (user.create).
	Events notify.Sink
	// StarterCredits seeds new accounts. Defaults to 5 when zero.
	StarterCredits int
}

// NewAccountService constructs an AccountService with the default starter
// balance and a log-only event sink.
func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{DB: db, Events: notify.Log{}, StarterCredits: 5}
}

// GetBalance returns the balance counters, remaining capacity, and
// subscription state for userID. It never fails on a negative remaining.
func (s *AccountService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &Balance{
		Credits:             u.Credits,
		UsedCredits:         u.UsedCredits,
		Remaining:           u.Remaining(),
		SubscriptionTier:    u.SubscriptionTier,
		SubscriptionExpires: u.SubscriptionExpires,
		ActiveSubscription:  HasActiveSubscription(u, time.Now().UTC()),
	}, nil
}

// ApplyDelta atomically appends a ledger entry and adjusts the matching
// balance counter: positive deltas increment credits (top-ups, bonuses,
// refunds), negative deltas increment used_credits by |delta|
// (consumption). The append and the counter mutation are one transaction;
// the counter mutation itself is an atomic SQL increment, so concurrent
// deltas for the same user serialize at the storage layer.
//
// Returns ErrInvalidDelta for delta == 0 and ErrUserNotFound when the
// account does not exist.
func (s *AccountService) ApplyDelta(ctx context.Context, userID string, delta int, reason string, requestID *string) error {
	tr := otel.Tracer("services/AccountService")
	ctx, span := tr.Start(ctx, "ApplyDelta",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	if delta == 0 {
		return ErrInvalidDelta
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if delta > 0 {
			err = repo.AddCredits(ctx, tx, userID, delta)
		} else {
			err = repo.SpendCredits(ctx, tx, userID, -delta)
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		_, err = repo.AppendLedgerEntry(ctx, tx, userID, requestID, delta, reason)
		return err
	})
}

// Resolve returns the account for an external identity, creating it on
// first sign-in (idempotent upsert keyed by the identity-provider subject).
// A brand-new account starts with the starter credit balance and fires a
// best-effort user.create notification. Concurrent first sign-ins race on
// the unique external_id index; the loser re-reads the winner's row.
func (s *AccountService) Resolve(ctx context.Context, externalID, name, email string) (*domain.User, error) {
	u, err := repo.GetUserByExternalID(ctx, s.DB, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrMissingEmail
	}
	if strings.TrimSpace(name) == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	starter := s.StarterCredits
	if starter == 0 {
		starter = 5
	}
	created, err := repo.CreateUser(ctx, s.DB, externalID, name, email, starter)
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return repo.GetUserByExternalID(ctx, s.DB, externalID)
		}
		return nil, err
	}

	if s.Events != nil {
		s.Events.Notify(ctx, "user.create", map[string]any{
			"user_id":     created.ID,
			"external_id": created.ExternalID,
			"email":       created.Email,
			"name":        created.Name,
		})
	}
	return created, nil
}

// DeleteAccount hard-deletes the account; foreign keys cascade to requests,
// materials, ledger entries, and dashboard items.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	if err := repo.DeleteUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
