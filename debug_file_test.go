// cngw
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of cngw.
//
// cngw is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// cngw is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cngw; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.
package cngw

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Session log tests share package state and cannot run in parallel.

func cleanupSessionLog(t *testing.T) {
	t.Helper()
	_ = CloseSessionLog()
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^cngw_\d{8}_\d{6}\.log$`), filepath.Base(path))
	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, GetSessionLogPath())
}

func TestInitSessionLog_Idempotent(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	first, err := InitSessionLog(dir)
	require.NoError(t, err)
	second, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, first, second, "an open session log is reused")
}

func TestInitSessionLog_MissingDirectory(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session log")
	assert.Empty(t, GetSessionLogPath())
}

func TestSessionLog_CapturesLoggerOutput(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)

	l := Logger("engine")
	l.Info().Str("link", "SPI0.0").Msg("handshake established")
	require.NoError(t, CloseSessionLog())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	text := string(content)

	assert.True(t, strings.HasPrefix(text, "=== CNGW Gateway Session Log ==="))
	for _, field := range []string{"Started:", "PID:", "OS:", "Go Version:", "Command Line:"} {
		assert.Contains(t, text, field)
	}
	assert.Contains(t, text, `"component":"engine"`)
	assert.Contains(t, text, "handshake established")
	assert.Contains(t, text, "=== Session ended ===")
	assert.Empty(t, GetSessionLogPath())
	assert.Nil(t, sessionLogFile)
}

func TestCloseSessionLog_NoSession(t *testing.T) {
	sessionLogFile = nil
	sessionLogPath = ""
	assert.NoError(t, CloseSessionLog())
}

func TestSessionLog_Cycles(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	for i := range 3 {
		dir := t.TempDir()
		path, err := InitSessionLog(dir)
		require.NoError(t, err, "cycle %d", i)
		assert.Equal(t, dir, filepath.Dir(path))
		require.NoError(t, CloseSessionLog(), "cycle %d", i)
		assert.Empty(t, GetSessionLogPath())
	}
}
