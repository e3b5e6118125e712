/*
   Copyright The sysd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package unit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-units"
)

// ParseDuration parses systemd-style durations: "100ms", "5s", "5sec",
// "2min", "1h", "1d", "1w", "1week". A bare number means seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	// Multi-letter suffixes first so "100ms" is not cut at its trailing "s".
	for _, u := range []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"min", time.Minute},
		{"sec", time.Second},
		{"week", 7 * 24 * time.Hour},
		{"s", time.Second},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
	} {
		if n, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseUint(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("duration %q: %w", s, errdefs.ErrInvalidArgument)
			}
			return time.Duration(v) * u.unit, nil
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return time.Duration(v) * time.Second, nil
}

// ParseSize parses a byte size with optional K/M/G suffix (binary multiples).
func ParseSize(s string) (uint64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("size %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return uint64(n), nil
}

// ParseCPUQuota parses "N%" where 100 means one full CPU.
func ParseCPUQuota(s string) (uint32, error) {
	n, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, fmt.Errorf("cpu quota %q: missing %%: %w", s, errdefs.ErrInvalidArgument)
	}
	v, err := strconv.ParseUint(n, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("cpu quota %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return uint32(v), nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}

func parseOctal(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
