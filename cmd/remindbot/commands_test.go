package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCommandPrintsReminder(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	out, err := runCommand(t, "parse", "--tz", "UTC", "--now", "2024-01-01T14:21:00",
		"Remind", "me", "to", "buy", "milk", "in", "30", "seconds")
	require.NoError(t, err)
	assert.Contains(t, out, "task:       buy milk")
	assert.Contains(t, out, "fire_at:    2024-01-01T14:21:30Z")
	assert.Contains(t, out, "confidence: high")
	assert.Contains(t, out, "source:     simple")
}

func TestParseCommandReportsNoMatch(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	out, err := runCommand(t, "parse", "--tz", "UTC", "hello there")
	require.NoError(t, err)
	assert.Contains(t, out, "result:     none")
}

func TestParseCommandRejectsBadNow(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := runCommand(t, "parse", "--tz", "UTC", "--now", "yesterday", "call mom in 5 minutes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--now")
}

func TestTasksCommandRequiresOwner(t *testing.T) {
	_, err := runCommand(t, "tasks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--owner")
}

func TestTasksCommandListsEmptyStore(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "tasks.db"))
	out, err := runCommand(t, "tasks", "--owner", "42")
	require.NoError(t, err)
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	assert.Empty(t, tasks)
}
