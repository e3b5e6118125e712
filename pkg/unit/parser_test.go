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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseString(t *testing.T, content string) *File {
	t.Helper()
	f, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	return f
}

func TestParseSimpleService(t *testing.T) {
	f := parseString(t, `
[Unit]
Description=Test Service
After=network.target

[Service]
Type=simple
ExecStart=/usr/bin/test

[Install]
WantedBy=multi-user.target
`)
	require.NotNil(t, f.Section("Unit"))
	require.NotNil(t, f.Section("Service"))
	require.NotNil(t, f.Section("Install"))
	assert.Equal(t, "Test Service", f.Section("Unit").Value("Description"))
	assert.Equal(t, []string{"/usr/bin/test"}, f.Section("Service").Values("ExecStart"))
}

func TestParseComments(t *testing.T) {
	f := parseString(t, `
[Unit]
# hash comment
Description=Test
; semicolon comment
After=network.target
`)
	assert.Equal(t, []string{"DESCRIPTION", "AFTER"}, f.Section("Unit").Keys())
}

func TestParseEmptyFile(t *testing.T) {
	f := parseString(t, "")
	assert.Empty(t, f.Sections)

	f = parseString(t, "# only a comment\n; another\n")
	assert.Empty(t, f.Sections)
}

func TestParseSpaceSeparatedLists(t *testing.T) {
	f := parseString(t, `
[Unit]
After=a.target b.target c.target
Wants=x.service y.service
`)
	u := f.Section("Unit")
	assert.Equal(t, []string{"a.target", "b.target", "c.target"}, u.Values("After"))
	assert.Equal(t, []string{"x.service", "y.service"}, u.Values("Wants"))
}

func TestParseRepeatedKeys(t *testing.T) {
	f := parseString(t, `
[Service]
ExecStartPre=/bin/echo one
ExecStartPre=/bin/echo two
ExecStartPre=/bin/echo three
`)
	assert.Equal(t,
		[]string{"/bin/echo one", "/bin/echo two", "/bin/echo three"},
		f.Section("Service").Values("ExecStartPre"))
}

func TestParseValueWithEquals(t *testing.T) {
	f := parseString(t, "[Service]\nEnvironment=FOO=bar=baz\n")
	assert.Equal(t, []string{"FOO=bar=baz"}, f.Section("Service").Values("Environment"))
}

func TestParseKeyCaseFolding(t *testing.T) {
	f := parseString(t, `
[Unit]
description=Lower
DESCRIPTION=Upper
Description=Mixed
`)
	assert.Len(t, f.Section("Unit").Values("Description"), 3)
	assert.Equal(t, "Lower", f.Section("Unit").Value("description"))
}

func TestParseWhitespace(t *testing.T) {
	f := parseString(t, "[Unit]\n   Description   =   Test Service\n")
	assert.Equal(t, "Test Service", f.Section("Unit").Value("Description"))
}

func TestParseDuplicateSection(t *testing.T) {
	_, err := Parse(strings.NewReader("[Unit]\nDescription=First\n\n[Unit]\nDescription=Second\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateSection)
}

func TestParseLinesBeforeFirstSection(t *testing.T) {
	f := parseString(t, "stray line\n\n[Unit]\nDescription=Test\n")
	require.NotNil(t, f.Section("Unit"))
	assert.Len(t, f.Sections, 1)
}

func TestParseDollarAndPercentPreserved(t *testing.T) {
	f := parseString(t, `
[Service]
ExecStart=/usr/bin/test %n %i
ExecReload=/bin/kill -HUP $MAINPID
`)
	s := f.Section("Service")
	assert.Equal(t, "/usr/bin/test %n %i", s.Value("ExecStart"))
	assert.Equal(t, "/bin/kill -HUP $MAINPID", s.Value("ExecReload"))
}

func TestParseEmptyValueDropped(t *testing.T) {
	f := parseString(t, "[Service]\nExecStart=\n")
	assert.Empty(t, f.Section("Service").Values("ExecStart"))
}

// Serializing a parsed file and re-parsing it yields an equivalent map.
func TestParseRoundTrip(t *testing.T) {
	f := parseString(t, `
[Unit]
Description=Round Trip
After=a.target b.target
Requires=c.service

[Service]
Type=notify
ExecStart=/usr/bin/daemon --flag value
Environment=FOO=bar
Environment=BAZ=qux

[Install]
WantedBy=multi-user.target
`)
	again, err := Parse(strings.NewReader(f.String()))
	require.NoError(t, err)

	require.Len(t, again.Sections, len(f.Sections))
	for _, s := range f.Sections {
		other := again.Section(s.Name)
		require.NotNil(t, other, "section %s lost in round trip", s.Name)
		for _, key := range s.Keys() {
			if diff := cmp.Diff(s.Values(key), other.Values(key)); diff != "" {
				t.Errorf("section %s key %s differs (-want +got):\n%s", s.Name, key, diff)
			}
		}
	}
}

func TestMergeAppends(t *testing.T) {
	base := parseString(t, `
[Unit]
After=network.target

[Service]
ExecStart=/usr/bin/main
`)
	dropin := parseString(t, `
[Unit]
After=remote-fs.target

[Service]
ExecStartPre=/usr/bin/setup
Environment=FOO=bar
`)
	Merge(base, dropin)

	assert.Equal(t, []string{"network.target", "remote-fs.target"}, base.Section("Unit").Values("After"))
	assert.Equal(t, []string{"/usr/bin/main"}, base.Section("Service").Values("ExecStart"))
	assert.Equal(t, []string{"/usr/bin/setup"}, base.Section("Service").Values("ExecStartPre"))
	assert.Equal(t, []string{"FOO=bar"}, base.Section("Service").Values("Environment"))
}

func TestMergeNewSection(t *testing.T) {
	base := parseString(t, "[Unit]\nDescription=Base\n")
	dropin := parseString(t, "[Install]\nWantedBy=multi-user.target\n")
	Merge(base, dropin)
	assert.Equal(t, []string{"multi-user.target"}, base.Section("Install").Values("WantedBy"))
}

func TestParseEnvironment(t *testing.T) {
	pairs, err := ParseEnvironment("FOO=bar BAZ=qux")
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"FOO", "bar"}, {"BAZ", "qux"}}, pairs)

	pairs, err = ParseEnvironment(`FOO="bar baz" QUX=test`)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"FOO", "bar baz"}, {"QUX", "test"}}, pairs)
}
