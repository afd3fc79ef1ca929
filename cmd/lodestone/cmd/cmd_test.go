package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodestone/pkg/version"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lodestone")
	assert.Contains(t, out, version.Version)
}

func TestVersionShort(t *testing.T) {
	out, err := runCommand(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestRootHasServeCommand(t *testing.T) {
	root := NewRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "version")
}

func TestServeRejectsBadConfig(t *testing.T) {
	_, err := runCommand(t, "serve", "--config", "does-not-exist.yaml")
	require.Error(t, err)
}
