package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compounding-docs/cdocs/pkg/version"
)

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newVersionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersionCmd_Default(t *testing.T) {
	output := runVersion(t)

	assert.True(t, strings.HasPrefix(output, "cdocs "))
	assert.Contains(t, output, version.Version)
	assert.Contains(t, output, "go:")
}

func TestVersionCmd_Short(t *testing.T) {
	output := runVersion(t, "--short")

	assert.Equal(t, version.Version+"\n", output)
}

func TestVersionCmd_JSON(t *testing.T) {
	output := runVersion(t, "--json")

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(output), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
}
