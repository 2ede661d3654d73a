package domain

import "errors"

var (
	// ErrNotFound covers missing orders, products, shipments and the like.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers business-rule violations that must not be retried:
	// insufficient stock at finalize, payment key reuse, amount mismatch,
	// duplicate feedback.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientBalance is returned when a point debit would drive a
	// user's balance negative.
	ErrInsufficientBalance = errors.New("insufficient point balance")

	// ErrUpstreamFailure marks a transient failure of an external
	// collaborator (payment gateway, carrier feed). Safe to retry.
	ErrUpstreamFailure = errors.New("upstream failure")
)
