// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"context"
	"errors"
	"fmt"
)

// Classification markers. Providers wrap their failures with one of these so
// the caller can decide between retry and escalation with errors.Is.
var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits,
	// connection resets, 5xx responses.
	ErrTransient = errors.New("transient embedding failure")

	// ErrPermanent marks failures no retry will fix: bad requests, invalid
	// models, authentication problems.
	ErrPermanent = errors.New("permanent embedding failure")

	// ErrMissingCredential is returned when a remote host is configured
	// without an API key. Wraps ErrPermanent.
	ErrMissingCredential = fmt.Errorf("%w: missing API credential", ErrPermanent)

	// ErrVectorCount is returned when a provider returns a different number
	// of vectors than texts requested. Wraps ErrPermanent.
	ErrVectorCount = fmt.Errorf("%w: vector count does not match input count", ErrPermanent)
)

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err is marked non-retryable. Anything not
// explicitly permanent is treated as transient: a false retry is cheap, a
// false escalation loses work.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !IsPermanent(err)
}
