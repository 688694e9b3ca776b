// Package parser turns one shell input line into a Command: BEGIN, COMMIT,
// ROLLBACK, WRITE, READ, DELETE, STATUS, or CHECKPOINT.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseCommand parses a single line of shell input.
func ParseCommand(raw string) (*Command, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty command")
	}

	fields := strings.Fields(trimmed)
	cmd := &Command{
		Type: CommandType(strings.ToUpper(fields[0])),
		Raw:  raw,
	}

	switch cmd.Type {
	case CmdBegin, CmdCommit, CmdRollback, CmdStatus, CmdCheckpoint:
		if len(fields) != 1 {
			return nil, fmt.Errorf("%s takes no arguments", cmd.Type)
		}

	case CmdRead, CmdDelete:
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s must be: %s key", cmd.Type, cmd.Type)
		}
		cmd.Key = fields[1]

	case CmdWrite:
		parts := strings.SplitN(trimmed, " ", 3)
		if len(parts) < 3 {
			return nil, errors.New("WRITE must be: WRITE key <json object>")
		}
		cmd.Key = parts[1]
		patch := strings.TrimSpace(parts[2])
		if !json.Valid([]byte(patch)) {
			return nil, fmt.Errorf("WRITE payload is not valid JSON: %s", patch)
		}
		cmd.Patch = json.RawMessage(patch)

	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Type)
	}

	return cmd, nil
}
