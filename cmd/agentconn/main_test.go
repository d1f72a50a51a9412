package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"labels"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "reconnecting  Reconnecting...")
	assert.Contains(t, out.String(), "error         Connection Error")
	assert.Equal(t, 5, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestRunCommand_MissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "-c", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, root.Execute())
}
