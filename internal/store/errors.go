// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package store

import "errors"

// Sentinel errors for store operations, checked with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation or a state transition
	// that lost a race.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the record is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)
