package cmds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetScalarAndRemoveKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veyra", "config.yaml")

	root, err := readAndParseConfig(path)
	require.NoError(t, err)
	setScalar(root, "theme", "dark")
	setScalar(root, "token", "first")
	setScalar(root, "token", "second")
	require.NoError(t, writeConfig(path, root))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "theme: dark\ntoken: second\n", string(data))

	require.NoError(t, forgetToken(path)(context.Background()))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "theme: dark\n", string(data))

	// nothing left to forget
	require.NoError(t, forgetToken(path)(context.Background()))
}

func TestRemoveKeyKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# backend\nbackend-url: http://x\ntoken: abc\n"), 0o600))

	root, err := readAndParseConfig(path)
	require.NoError(t, err)
	assert.True(t, removeKey(root, "token"))
	assert.False(t, removeKey(root, "token"))
	require.NoError(t, writeConfig(path, root))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# backend")
	assert.NotContains(t, string(data), "token")
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	ok, err := confirm(strings.NewReader("y\n"), &out, "Delete?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = confirm(strings.NewReader("n\n"), &out, "Delete?")
	require.NoError(t, err)
	assert.False(t, ok)
}
