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
	"fmt"
	"strconv"
	"strings"
)

const (
	// LogDir holds every commit, checkpoint and temp file of the log.
	LogDir = "_delta_log"

	// LogPrefix is the key prefix of everything under LogDir.
	LogPrefix = LogDir + "/"

	// LastCheckpointKey points at the newest checkpoint.
	LastCheckpointKey = LogPrefix + "_last_checkpoint"

	tempPrefix       = LogPrefix + ".tmp/"
	commitSuffix     = ".json"
	checkpointSuffix = ".checkpoint.json.sz"
	versionDigits    = 20
)

// CommitKey returns the key of commit |version|. Keys sort lexicographically in version order.
func CommitKey(version int64) string {
	return fmt.Sprintf("%s%020d%s", LogPrefix, version, commitSuffix)
}

// CheckpointKey returns the key of the checkpoint for |version|.
func CheckpointKey(version int64) string {
	return fmt.Sprintf("%s%020d%s", LogPrefix, version, checkpointSuffix)
}

// ParseCommitKey returns the version of a commit key, or false if |key| is not a commit.
func ParseCommitKey(key string) (int64, bool) {
	return parseVersionKey(key, commitSuffix)
}

// ParseCheckpointKey returns the version of a checkpoint key, or false if |key| is not one.
func ParseCheckpointKey(key string) (int64, bool) {
	return parseVersionKey(key, checkpointSuffix)
}

// IsLogKey reports whether |key| belongs to the log rather than to table data.
func IsLogKey(key string) bool {
	return key == LogDir || strings.HasPrefix(key, LogPrefix)
}

func parseVersionKey(key, suffix string) (int64, bool) {
	if !strings.HasPrefix(key, LogPrefix) || !strings.HasSuffix(key, suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(key, LogPrefix), suffix)
	if len(digits) != versionDigits {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
