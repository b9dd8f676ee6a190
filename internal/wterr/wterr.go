// Package wterr defines the error taxonomy shared by the watchtower client
// plugin's packages. Errors that fall into one of these kinds wrap it so
// callers can classify them with errors.Is without depending on the
// originating package's concrete error type. Not every error does: wtdb's
// own sentinels such as ErrTowerNotFound and ErrNoClientKey are returned
// unwrapped.
package wterr

import "errors"

var (
	// Connection signals a transport-level failure talking to a tower:
	// DNS, refused, timeout, TLS, or a 5xx response.
	Connection = errors.New("connection error")

	// Subscription signals the tower rejected a call because the user's
	// subscription is invalid or exhausted.
	Subscription = errors.New("subscription error")

	// AppointmentRejected signals the tower returned an API error other
	// than a subscription error.
	AppointmentRejected = errors.New("appointment rejected")

	// Misbehavior signals a receipt signature did not recover to the
	// tower's advertised identity.
	Misbehavior = errors.New("tower misbehavior")

	// ProtocolViolation signals a 2xx response body that failed to
	// deserialize into the expected type.
	ProtocolViolation = errors.New("protocol violation")

	// UserError signals a bad operator command: unknown tower, duplicate
	// retry, and the like. Surfaced directly to the calling RPC.
	UserError = errors.New("user error")

	// Fatal signals a startup failure the process cannot recover from.
	Fatal = errors.New("fatal error")
)
