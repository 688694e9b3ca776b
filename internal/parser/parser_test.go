package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand_SimpleVerbsRejectArguments(t *testing.T) {
	cmd, err := ParseCommand("BEGIN")
	require.NoError(t, err)
	assert.Equal(t, CmdBegin, cmd.Type)

	_, err = ParseCommand("COMMIT now")
	assert.Error(t, err)
}

func TestParseCommand_ReadAndDeleteRequireKey(t *testing.T) {
	cmd, err := ParseCommand("read user-1")
	require.NoError(t, err)
	assert.Equal(t, CmdRead, cmd.Type)
	assert.Equal(t, "user-1", cmd.Key)

	_, err = ParseCommand("DELETE")
	assert.Error(t, err)
}

func TestParseCommand_WriteCapturesJSONPatch(t *testing.T) {
	cmd, err := ParseCommand(`WRITE user-1 {"name": "ada", "age": 30}`)
	require.NoError(t, err)
	assert.Equal(t, CmdWrite, cmd.Type)
	assert.Equal(t, "user-1", cmd.Key)
	assert.JSONEq(t, `{"name":"ada","age":30}`, string(cmd.Patch))
}

func TestParseCommand_WriteRejectsInvalidJSON(t *testing.T) {
	_, err := ParseCommand("WRITE user-1 {not json}")
	assert.Error(t, err)
}

func TestParseCommand_EmptyLineIsError(t *testing.T) {
	_, err := ParseCommand("   ")
	assert.Error(t, err)
}

func TestParseCommand_UnknownVerb(t *testing.T) {
	_, err := ParseCommand("FROBNICATE x")
	assert.Error(t, err)
}
