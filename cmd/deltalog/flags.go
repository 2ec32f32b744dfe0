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


package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// optionalBool is a boolean flag that remembers whether it was given, so an omitted flag
// leaves the configured value alone. It accepts the --no- form like any kingpin bool.
type optionalBool struct {
	set   bool
	value bool
}

func (b *optionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	b.set, b.value = true, v
	return nil
}

func (b *optionalBool) String() string {
	return strconv.FormatBool(b.value)
}

func (b *optionalBool) IsBoolFlag() bool {
	return true
}

// apply overwrites |dst| if the flag was given.
func (b *optionalBool) apply(dst *bool) {
	if b.set {
		*dst = b.value
	}
}

// parseAddSpec parses an --add value of the form path:size.
func parseAddSpec(spec string) (string, int64, error) {
	i := strings.LastIndexByte(spec, ':')
	if i <= 0 || i == len(spec)-1 {
		return "", 0, errors.Errorf("invalid --add '%s', expected path:size", spec)
	}
	size, err := strconv.ParseInt(spec[i+1:], 10, 64)
	if err != nil || size < 0 {
		return "", 0, errors.Errorf("invalid size in --add '%s'", spec)
	}
	return spec[:i], size, nil
}
