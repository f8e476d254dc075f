package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ldacruz94/topiclog/internal/log"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	root := t.TempDir()

	out, err := run(t, "--root", root, "create", "orders")
	require.NoError(t, err)
	require.Contains(t, out, "created orders")

	out, err = run(t, "--root", root, "append", "orders", "first")
	require.NoError(t, err)
	require.Equal(t, "1\n", out)

	out, err = run(t, "--root", root, "append", "orders", "second")
	require.NoError(t, err)
	require.Equal(t, "2\n", out)

	out, err = run(t, "--root", root, "read", "orders", "1")
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.Equal(t, Record{Offset: 1, Value: "second"}, rec)

	out, err = run(t, "--root", root, "info", "orders")
	require.NoError(t, err)
	require.Contains(t, out, "next offset: 2")
	require.Equal(t, 1, strings.Count(out, "active"))
}

func TestCommandErrors(t *testing.T) {
	root := t.TempDir()

	_, err := run(t, "--root", root, "read", "orders", "x")
	require.Error(t, err)

	_, err = run(t, "--root", root, "read", "orders", "0")
	require.True(t, errors.Is(err, log.ErrNotFound))

	_, err = run(t, "--root", root, "create", "orders")
	require.NoError(t, err)
	_, err = run(t, "--root", root, "create", "orders")
	require.True(t, errors.Is(err, log.ErrTopicExists))
}

func TestCommandsWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topiclog.yaml")
	root := filepath.Join(dir, "store")
	require.NoError(t, os.WriteFile(path, []byte("root_directory: "+root+"\nlog_level: error\nsegment:\n  max_messages: 2\n"), 0644))

	for _, v := range []string{"a", "b", "c"} {
		_, err := run(t, "--config", path, "append", "events", v)
		require.NoError(t, err)
	}

	out, err := run(t, "--config", path, "info", "events")
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "sealed"))
	require.Equal(t, 1, strings.Count(out, "active"))
	require.True(t, log.Exists(root, "events"))
}
