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

package blobstore

import "github.com/pkg/errors"

// NotFound is an error type used only when a key is not found in a Blobstore.
type NotFound struct {
	Key string
}

// Error returns the key which was not found
func (nf NotFound) Error() string {
	return "blob not found: " + nf.Key
}

// IsNotFoundError is a helper method used to determine if returned errors resulted
// because the key didn't exist as opposed to something going wrong.
func IsNotFoundError(err error) bool {
	var nf NotFound
	return errors.As(err, &nf)
}

// AlreadyExists is returned by CreateIfAbsent when another writer got to the key first.
type AlreadyExists struct {
	Key string
}

func (ae AlreadyExists) Error() string {
	return "blob already exists: " + ae.Key
}

// IsAlreadyExistsError reports whether a CreateIfAbsent lost a race for its key.
func IsAlreadyExistsError(err error) bool {
	var ae AlreadyExists
	return errors.As(err, &ae)
}
