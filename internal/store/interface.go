// Package store persists the credential and accounting record backing
// every request: the "{user_id}-{secret}" token, credit balance, temp-ban
// window, and usage counters. Two implementations are provided (memory for
// tests/single-box dev, postgres for production), selected the way the
// teacher's store package selects between its backends.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups for a user_id with no record.
var ErrNotFound = errors.New("store: user not found")

// CredentialStore is the accounting and authentication surface the
// dispatcher depends on. Implementations must be safe for concurrent use.
type CredentialStore interface {
	// Validate reports whether secret matches the stored token for userID,
	// and whether the account is currently usable (not permanently banned,
	// not inside an active temp-ban window). A non-nil error means the
	// lookup itself failed, not that validation failed.
	Validate(ctx context.Context, userID int64, secret string) (bool, error)

	// GetUser returns the full record for userID.
	GetUser(ctx context.Context, userID int64) (*UserRecord, error)

	// ListUsers returns every known record, for admin listing.
	ListUsers(ctx context.Context) ([]*UserRecord, error)

	// GetCredit returns the current credit balance for userID.
	GetCredit(ctx context.Context, userID int64) (int, error)

	// AdjustCredit adds delta (positive or negative) to userID's balance.
	// Only ever called from the admin surface — the dispatch path never
	// debits credit on its own.
	AdjustCredit(ctx context.Context, userID int64, delta int) error

	// IncrementContribution credits a worker for a completed task.
	IncrementContribution(ctx context.Context, userID int64, delta int64) error

	// IncrementUsage records one fulfilled request against both the
	// lifetime and the current daily counters for userID.
	IncrementUsage(ctx context.Context, userID int64) error

	// ResetDailyUsage zeroes the daily counter for every user. Intended to
	// run once per day (see cmd/dispatcher's reset scheduling).
	ResetDailyUsage(ctx context.Context) error

	// SetTempBan places userID under a temporary ban until the given time.
	// A zero time clears any active temp-ban.
	SetTempBan(ctx context.Context, userID int64, until time.Time) error

	// SetBanned sets or clears the permanent ban flag for userID.
	SetBanned(ctx context.Context, userID int64, banned bool) error

	// CreateOrRotateUser creates userID if absent (with displayName and a
	// freshly generated secret) or, if it already exists, leaves its
	// secret untouched and only updates displayName. Returns the secret
	// that is current after the call.
	CreateOrRotateUser(ctx context.Context, userID int64, displayName string) (secret string, err error)

	// RotateToken replaces userID's secret with a newly generated one and
	// returns it.
	RotateToken(ctx context.Context, userID int64) (secret string, err error)
}
