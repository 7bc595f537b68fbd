package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dbg-mcp/internal/errors"
)

// requireString returns a required string argument. A missing argument and
// one of the wrong type are both INVALID_PARAMS naming the parameter.
func requireString(request mcp.CallToolRequest, name, hint string) (string, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return "", errors.MissingParameter(name, hint)
	}
	v, err := request.RequireString(name)
	if err != nil {
		return "", errors.InvalidParameter(name, raw, "a string")
	}
	return v, nil
}

// optionalString returns a string argument or "" when it is absent
func optionalString(request mcp.CallToolRequest, name string) (string, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", errors.InvalidParameter(name, raw, "a string")
	}
	return v, nil
}
