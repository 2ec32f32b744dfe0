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


package tablecfg

import (
	"bytes"
	"fmt"
	"os"
)

// interpolateEnv expands environment variables in |data| before it is parsed.
//
//   - ${VAR} is the value of VAR, which must be set and non-empty
//   - ${VAR:-default} is the value of VAR, or default (itself expanded) if VAR is unset or empty
//   - $$ is a literal '$'
//
// Any other '$' is copied unchanged.
func interpolateEnv(data []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(data))

	for len(data) > 0 {
		i := bytes.IndexByte(data, '$')
		if i < 0 {
			out.Write(data)
			break
		}
		out.Write(data[:i])
		data = data[i:]

		switch {
		case bytes.HasPrefix(data, []byte("$$")):
			out.WriteByte('$')
			data = data[2:]
		case bytes.HasPrefix(data, []byte("${")):
			end := bytes.IndexByte(data, '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated environment placeholder %q", truncate(data, 20))
			}
			val, err := expandPlaceholder(data[2:end])
			if err != nil {
				return nil, err
			}
			out.Write(val)
			data = data[end+1:]
		default:
			out.WriteByte('$')
			data = data[1:]
		}
	}
	return out.Bytes(), nil
}

func expandPlaceholder(expr []byte) ([]byte, error) {
	name, def, hasDefault := bytes.Cut(expr, []byte(":-"))
	if !validEnvName(name) {
		return nil, fmt.Errorf("invalid environment variable name %q", name)
	}

	if val, ok := os.LookupEnv(string(name)); ok && val != "" {
		return []byte(val), nil
	}
	if hasDefault {
		return interpolateEnv(def)
	}
	return nil, fmt.Errorf("environment variable %q is not set", name)
}

func validEnvName(name []byte) bool {
	if len(name) == 0 {
		return false
	}
	for i, c := range name {
		letter := c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
		digit := c >= '0' && c <= '9'
		if !letter && (i == 0 || !digit) {
			return false
		}
	}
	return true
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
