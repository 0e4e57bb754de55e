package errors

import "errors"

// requested entity does not exist.
var ErrMissing = errors.New("missing")

// a single entity was requested, but more were found.
var ErrTooMuch = errors.New("too much")

// the request is malformed, or fails validation.
var ErrInvalidRequest = errors.New("invalid request")

// the sender of a webhook delivery could not be authenticated.
var ErrUnauthorized = errors.New("unauthorized")

// the intake queue is full. The sender should retry later, with backoff.
var ErrBackpressure = errors.New("backpressure")
