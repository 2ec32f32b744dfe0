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


package vacuum

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/src-d/go-errors.v1"
)

// MinRetention is the shortest retention period allowed while the retention check is
// enforced.
const MinRetention = 7 * 24 * time.Hour

var (
	// ErrRetentionSafety is returned before any listing when the retention period is below
	// MinRetention and enforcement is on.
	ErrRetentionSafety = errors.NewKind("retention period %s is shorter than the minimum %s; disable retention enforcement to proceed at your own risk")

	// ErrNotATable is returned when the location has no log.
	ErrNotATable = errors.NewKind("%s is not a table: no commits found")

	// ErrVacuumInProgress is returned when another vacuum holds the lease.
	ErrVacuumInProgress = errors.NewKind("another vacuum of %s is in progress")
)

// Window is the retention window of one vacuum.
type Window struct {
	Period         time.Duration
	EnforceMinimum bool
}

// Threshold returns the time before which unreferenced files may be deleted.
func (w Window) Threshold(now time.Time) time.Time {
	return now.Add(-w.Period)
}

func (w Window) validate() error {
	if w.Period < 0 {
		return fmt.Errorf("retention period %s is negative", w.Period)
	}
	if w.EnforceMinimum && w.Period < MinRetention {
		return ErrRetentionSafety.New(w.Period, MinRetention)
	}
	return nil
}

// Config is the immutable configuration of a vacuum. Use the With methods to derive
// variations of it.
type Config struct {
	RetentionPeriod          time.Duration `default:"168h"`
	DryRun                   bool          `default:"true"`
	EnforceRetentionDuration bool          `default:"true"`
	Parallelism              int           `default:"8"`
	RecordAudit              bool          `default:"true"`
	// HistoryLookback restricts tombstone discovery to removes in the newest
	// HistoryLookback commits. Zero uses every tombstone of the current state.
	HistoryLookback int64 `default:"0"`
}

// DefaultConfig returns a dry run with the minimum retention enforced.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) WithRetentionPeriod(d time.Duration) Config {
	c.RetentionPeriod = d
	return c
}

func (c Config) WithDryRun(dryRun bool) Config {
	c.DryRun = dryRun
	return c
}

func (c Config) WithEnforceRetentionDuration(enforce bool) Config {
	c.EnforceRetentionDuration = enforce
	return c
}

func (c Config) WithParallelism(n int) Config {
	c.Parallelism = n
	return c
}

func (c Config) WithRecordAudit(audit bool) Config {
	c.RecordAudit = audit
	return c
}

func (c Config) WithHistoryLookback(commits int64) Config {
	c.HistoryLookback = commits
	return c
}

// Window returns the retention window described by the config.
func (c Config) Window() Window {
	return Window{Period: c.RetentionPeriod, EnforceMinimum: c.EnforceRetentionDuration}
}
