// Package services defines the business logic for accounts, study requests,
// and the dashboard. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Account and ledger errors.
var (
	// ErrUserNotFound indicates that the referenced account does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidDelta is returned when a ledger mutation carries a zero delta.
	ErrInvalidDelta = errors.New("ledger delta must be non-zero")

	// ErrInsufficientCredits indicates the capacity check failed: the user's
	// remaining balance does not cover the requested generation. Surfaced
	// distinctly so callers can route to an upgrade flow.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUnknownPlan is returned for a subscription plan id outside
	// {pro, unlimited}.
	ErrUnknownPlan = errors.New("unknown subscription plan")

	// ErrUnknownPack is returned for a credit pack id outside the catalog.
	ErrUnknownPack = errors.New("unknown credit pack")

	// ErrMissingEmail is returned when a first sign-in carries no email
	// address; accounts require a unique email.
	ErrMissingEmail = errors.New("no email on identity profile")
)

// Study request errors.
var (
	// ErrRequestNotFound indicates that the requested generation attempt does
	// not exist or is not accessible to the current user.
	ErrRequestNotFound = errors.New("study request not found")

	// ErrInvalidPurpose is returned for a purpose outside the accepted set.
	ErrInvalidPurpose = errors.New("purpose must be one of: exam, job, practice, coding, other")

	// ErrInvalidDifficulty is returned for a difficulty outside the accepted set.
	ErrInvalidDifficulty = errors.New("difficulty must be one of: Easy, Medium, Hard")

	// ErrEmptyTopic is returned when a request is submitted without a topic.
	ErrEmptyTopic = errors.New("topic is empty")

	// ErrTopicTooLong is returned when the topic exceeds the configured
	// maximum length.
	ErrTopicTooLong = errors.New("topic too long")

	// ErrInvalidTransition indicates a state machine violation: an attempt to
	// move a request out of a terminal state or along an undefined edge.
	// Treated as a server fault (programming or race error), not user input.
	ErrInvalidTransition = errors.New("invalid request state transition")
)

// Dashboard and material errors.
var (
	// ErrMaterialNotFound indicates that the referenced study material does
	// not exist.
	ErrMaterialNotFound = errors.New("study material not found")

	// ErrItemNotFound indicates that the dashboard item does not exist or is
	// not owned by the caller. Ownership failures and missing rows are
	// deliberately indistinguishable.
	ErrItemNotFound = errors.New("dashboard item not found")

	// ErrAlreadyAdded is returned when a material is already on the user's
	// dashboard. Non-fatal; callers surface it as "Already added".
	ErrAlreadyAdded = errors.New("already added")

	// ErrInvalidProgress is returned when a progress value falls outside
	// [0, 100].
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)
