// Copyright 2026 Dolthub, Inc.
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

package txlog

import (
	"context"
	goerrors "errors"

	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrVersionExists is returned by Append when another writer already published the version.
	ErrVersionExists = errors.NewKind("commit version %d already exists")

	// ErrVersionNotFound is returned by Read when no commit exists at the version.
	ErrVersionNotFound = errors.NewKind("commit version %d not found")

	// ErrIntegrity means a commit record is missing, malformed or out of sequence where the
	// log requires it. It is never retried or skipped.
	ErrIntegrity = errors.NewKind("log integrity error at version %d: %s")

	// ErrStorage wraps a backend failure outside of this package's control.
	ErrStorage = errors.NewKind("storage error during %s of %s")

	// ErrCancelled and ErrTimeout surface a context that ended before the operation completed.
	ErrCancelled = errors.NewKind("%s cancelled")
	ErrTimeout   = errors.NewKind("%s timed out")
)

// CheckContext returns ErrCancelled or ErrTimeout if |ctx| is done, naming |op|.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return contextKind(err, op)
	}
	return nil
}

// StorageError classifies a backend error from |op| on |key|. Context errors become
// ErrCancelled or ErrTimeout, everything else ErrStorage.
func StorageError(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return contextKind(err, op+" of "+key)
	}
	return ErrStorage.Wrap(err, op, key)
}

func contextKind(err error, op string) error {
	if goerrors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Wrap(err, op)
	}
	return ErrCancelled.Wrap(err, op)
}

// IsInterrupted reports whether |err| is an ErrCancelled or ErrTimeout.
func IsInterrupted(err error) bool {
	return ErrCancelled.Is(err) || ErrTimeout.Is(err)
}
