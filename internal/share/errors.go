// Package share issues one-time download links and delivers each uploaded
// artifact at most once.
//
// Uploads flow through the Issuer: the blob is stored first and only then
// registered, so a failed write never leaves a record behind. Downloads flow
// through the Gate, which claims the record, streams the blob and purges
// both once the transport confirms the bytes went out.
package share

import "errors"

var (
	// ErrNotFound covers unknown, already delivered and currently claimed
	// ids alike, so callers cannot probe whether an id ever existed.
	ErrNotFound = errors.New("file not found or already downloaded")

	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("empty upload")

	// ErrMissingName is returned when the encrypted filename is absent.
	ErrMissingName = errors.New("missing encrypted filename")

	// ErrDeliveryClosed is returned by Delivery methods after the delivery
	// completed, aborted or expired.
	ErrDeliveryClosed = errors.New("delivery closed")

	// ErrIncomplete is returned by Complete when fewer bytes were read than
	// the blob holds. The claim is released.
	ErrIncomplete = errors.New("delivery incomplete")
)
