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


package filesys

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dolthub/fslock"
	"github.com/pkg/errors"
)

const unlockedStateValue int32 = 0
const lockedStateValue int32 = 1

var errLockUnlock = errors.New("attempting to unlock a lock that is not locked")

// FilesysLock is an advisory lock held while a table is being vacuumed.
type FilesysLock interface {
	TryLock() (bool, error)
	Unlock() error
}

var inMemLocks sync.Map

// InMemFileLock is a lock shared by every holder in this process that names the same key.
type InMemFileLock struct {
	state *int32
}

// NewInMemFileLock returns the process wide lock for |key|.
func NewInMemFileLock(key string) *InMemFileLock {
	state, _ := inMemLocks.LoadOrStore(key, new(int32))
	return &InMemFileLock{state: state.(*int32)}
}

// TryLock attempts to lock the lock or fails if it is already locked
func (memLock *InMemFileLock) TryLock() (bool, error) {
	return atomic.CompareAndSwapInt32(memLock.state, unlockedStateValue, lockedStateValue), nil
}

// Unlock unlocks the lock
func (memLock *InMemFileLock) Unlock() error {
	if !atomic.CompareAndSwapInt32(memLock.state, lockedStateValue, unlockedStateValue) {
		return errLockUnlock
	}
	return nil
}

// LocalFileLock is an OS level lock on a file, held across processes on one host.
type LocalFileLock struct {
	filename string
	lck      *fslock.Lock
}

// NewLocalFileLock creates a LocalFileLock on |filename|. Its directory is created on the
// first TryLock.
func NewLocalFileLock(filename string) *LocalFileLock {
	return &LocalFileLock{filename: filename, lck: fslock.New(filename)}
}

// TryLock attempts to lock the lock or fails if it is already locked
func (locLock *LocalFileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(locLock.filename), os.ModePerm); err != nil {
		return false, err
	}
	err := locLock.lck.TryLock()
	if err == fslock.ErrLocked {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock unlocks the lock
func (locLock *LocalFileLock) Unlock() error {
	return locLock.lck.Unlock()
}
