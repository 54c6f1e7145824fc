package sysctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/apperr"
	"onairsync/internal/config"
	"onairsync/internal/logger"
)

func newController(reboot, shutdown []string, exit ExitFunc) *Controller {
	return New(config.SystemConf{Reboot: reboot, Shutdown: shutdown}, exit, logger.Discard())
}

func TestRebootRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rebooted")
	c := newController([]string{"sh", "-c", "touch " + marker}, nil, nil)

	require.NoError(t, c.Reboot(context.Background()))
	assert.FileExists(t, marker)
}

func TestCommandErrors(t *testing.T) {
	script := filepath.Join(t.TempDir(), "halt")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o600))

	cases := []struct {
		name string
		argv []string
		want error
	}{
		{"not configured", nil, apperr.ErrProcessFailed},
		{"not executable", []string{script}, apperr.ErrPermissionDenied},
		{"sudo refusal", []string{"sh", "-c", "echo 'sudo: a password is required' >&2; exit 1"}, apperr.ErrPermissionDenied},
		{"exit 126", []string{"sh", "-c", "exit 126"}, apperr.ErrPermissionDenied},
		{"plain failure", []string{"sh", "-c", "echo 'device busy' >&2; exit 3"}, apperr.ErrProcessFailed},
		{"missing binary", []string{"/nonexistent/halt"}, apperr.ErrProcessFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newController(nil, tc.argv, nil)
			err := c.Shutdown(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFailureMessageUsesOutput(t *testing.T) {
	c := newController(nil, []string{"sh", "-c", "echo 'device busy' >&2; echo more >&2; exit 3"}, nil)
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.NotContains(t, err.Error(), "more")
}

func TestQuitAndRestartUseHook(t *testing.T) {
	calls := make(chan bool, 2)
	c := newController(nil, nil, func(restart bool) { calls <- restart })

	require.NoError(t, c.Quit())
	require.NoError(t, c.Restart())

	got := map[bool]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-calls:
			got[r] = true
		case <-time.After(time.Second):
			t.Fatal("exit hook not called")
		}
	}
	assert.True(t, got[false])
	assert.True(t, got[true])

	assert.ErrorIs(t, newController(nil, nil, nil).Quit(), apperr.ErrProcessFailed)
}
