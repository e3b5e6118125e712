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

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadService(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app.service", `
[Unit]
Description=App
After=network.target

[Service]
ExecStart=/usr/bin/app
`)
	l := New([]string{dir})
	u, err := l.Load("app.service")
	require.NoError(t, err)
	svc, ok := u.(*unit.Service)
	require.True(t, ok)
	assert.Equal(t, "App", svc.Unit.Description)
	assert.Equal(t, []string{"/usr/bin/app"}, svc.ExecStart)
	assert.NotZero(t, svc.ModTime)
}

func TestLoadNotFound(t *testing.T) {
	l := New([]string{t.TempDir()})
	_, err := l.Load("missing.service")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestSearchPathPrecedence(t *testing.T) {
	etc := t.TempDir()
	lib := t.TempDir()
	write(t, lib, "app.service", "[Unit]\nDescription=lib copy\n[Service]\nExecStart=/usr/bin/app\n")
	write(t, etc, "app.service", "[Unit]\nDescription=etc copy\n[Service]\nExecStart=/usr/bin/app\n")

	u, err := New([]string{etc, lib}).Load("app.service")
	require.NoError(t, err)
	assert.Equal(t, "etc copy", u.Common().Description)
}

func TestTemplateInstance(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "getty@.service", `
[Unit]
Description=Getty on %I

[Service]
Type=idle
ExecStart=/sbin/agetty --noclear %I $TERM
`)
	u, err := New([]string{dir}).Load("getty@tty1.service")
	require.NoError(t, err)
	svc := u.(*unit.Service)
	assert.Equal(t, "getty@tty1.service", svc.Name())
	assert.Equal(t, "tty1", svc.Instance)
	// Specifier substitution happens at exec time; the raw command keeps %I.
	assert.Contains(t, svc.ExecStart[0], "%I")
}

func TestInstanceFileBeatsTemplate(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "getty@.service", "[Service]\nExecStart=/sbin/agetty generic\n")
	write(t, dir, "getty@tty9.service", "[Service]\nExecStart=/sbin/agetty special\n")

	u, err := New([]string{dir}).Load("getty@tty9.service")
	require.NoError(t, err)
	assert.Contains(t, u.(*unit.Service).ExecStart[0], "special")
}

func TestDropinMerge(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app.service", `
[Unit]
After=network.target

[Service]
ExecStart=/usr/bin/app
`)
	write(t, dir, "app.service.d/10-extra.conf", "[Unit]\nAfter=remote-fs.target\n")
	write(t, dir, "app.service.d/20-env.conf", "[Service]\nEnvironment=FOO=bar\n")

	u, err := New([]string{dir}).Load("app.service")
	require.NoError(t, err)
	svc := u.(*unit.Service)
	assert.Equal(t, []string{"network.target", "remote-fs.target"}, svc.Unit.After)
	assert.Equal(t, [][2]string{{"FOO", "bar"}}, svc.Environment)
}

func TestDropinSortedOrder(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app.service", "[Service]\nExecStart=/usr/bin/app\n")
	write(t, dir, "app.service.d/20-b.conf", "[Unit]\nAfter=b.target\n")
	write(t, dir, "app.service.d/10-a.conf", "[Unit]\nAfter=a.target\n")

	u, err := New([]string{dir}).Load("app.service")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.target", "b.target"}, u.Common().After)
}

func TestTargetWantsDir(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "multi-user.target", "[Unit]\nDescription=Multi-User System\n")
	write(t, dir, "multi-user.target.wants/a.service", "")
	write(t, dir, "multi-user.target.wants/b.socket", "")
	write(t, dir, "multi-user.target.wants/notaunit", "")

	u, err := New([]string{dir}).Load("multi-user.target")
	require.NoError(t, err)
	tgt := u.(*unit.Target)
	assert.Equal(t, []string{"a.service", "b.socket"}, tgt.WantsDir)
}

func TestLoadMountDerivesWhere(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "dev-hugepages.mount", "[Mount]\nWhat=hugetlbfs\nType=hugetlbfs\n")
	u, err := New([]string{dir}).Load("dev-hugepages.mount")
	require.NoError(t, err)
	assert.Equal(t, "/dev/hugepages", u.(*unit.Mount).Where)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.service", "")
	write(t, dir, "b.target", "")
	write(t, dir, "ignored.txt", "")
	names := New([]string{dir}).List()
	assert.Equal(t, []string{"a.service", "b.target"}, names)
}
