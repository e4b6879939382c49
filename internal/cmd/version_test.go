package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opmodel/hcp/internal/version"
)

func TestNewVersionCmd(t *testing.T) {
	cmd := NewVersionCmd()

	assert.Equal(t, "version", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
}

func TestVersionCmd_Execute(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)

	out, err = execute(t, "version", "-o", "json")
	require.NoError(t, err)
	var info version.Info
	decodeJSON(t, out, &info)
	assert.Equal(t, "web-program-pre1", info.ManifestFormat)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"check", "serve", "status", "versions", "prune", "diff", "config", "version"} {
		assert.True(t, names[want], "missing %s", want)
	}
}
