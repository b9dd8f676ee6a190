package wtdb

import "errors"

var (
	// ErrNoClientKey signals the client secret key has never been
	// persisted; a fresh one should be generated and stored.
	ErrNoClientKey = errors.New("wtdb: client key not found")

	// ErrTowerNotFound signals the requested tower has no record in the
	// store.
	ErrTowerNotFound = errors.New("wtdb: tower not found")

	// ErrSubscriptionDowngrade signals a registration receipt was
	// rejected because its subscription_expiry or available_slots did
	// not strictly exceed the currently stored values.
	ErrSubscriptionDowngrade = errors.New("wtdb: subscription downgrade rejected")

	// ErrAppointmentReceiptNotFound signals no delivered-appointment
	// signature exists for the given tower/locator pair.
	ErrAppointmentReceiptNotFound = errors.New("wtdb: appointment receipt not found")
)
