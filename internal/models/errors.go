package models

import "errors"

var (
	// ErrInvalidPayload marks a webhook payload missing required routing
	// data. The pipeline aborts before any side effect.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrNotFound marks a missing group, post or member referenced by an
	// action. Handlers answer with an explanatory message, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrPersistence marks a failed storage write. The pipeline aborts
	// without dispatching notifications.
	ErrPersistence = errors.New("persistence error")

	// ErrDuplicateMessage short-circuits redelivery of an already
	// processed Message-Id. It is reported as success to the caller.
	ErrDuplicateMessage = errors.New("duplicate message")
)
