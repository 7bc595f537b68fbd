package mcp

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/errors"
)

// Result sections selectable with focus_areas
const (
	sectionVariables = "variables"
	sectionStack     = "stack"
	sectionLocation  = "location"
	sectionState     = "state"
	sectionOutput    = "output"
)

var verbosityLevels = map[string]int{
	config.VerbosityMinimal:       0,
	config.VerbosityFocused:       1,
	config.VerbosityStandard:      2,
	config.VerbosityComprehensive: 3,
}

type fieldRule struct {
	level   int
	section string
}

// fieldRules assigns top-level result keys to a minimum verbosity and a
// section. Keys not listed here are always kept.
var fieldRules = map[string]fieldRule{
	"state":            {0, sectionState},
	"stop_reason":      {1, sectionState},
	"exit_code":        {1, sectionState},
	"signal":           {1, sectionState},
	"backend":          {2, sectionState},
	"binary_path":      {2, sectionState},
	"pid":              {2, sectionState},
	"breakpoint_count": {2, sectionState},
	"debugger_pid":     {3, sectionState},
	"created_at":       {3, sectionState},

	"location": {0, sectionLocation},
	"frame":    {2, sectionLocation},

	"frames":      {0, sectionStack},
	"frame_count": {1, sectionStack},

	"variable":         {0, sectionVariables},
	"evaluation_error": {0, sectionVariables},
	"method":           {2, sectionVariables},

	"output":      {2, sectionOutput},
	"commands":    {3, sectionOutput},
	"duration_ms": {3, sectionOutput},
}

func focusAreaNames() []string {
	return []string{sectionVariables, sectionStack, sectionLocation, sectionState, sectionOutput}
}

func isFocusArea(name string) bool {
	for _, a := range focusAreaNames() {
		if a == name {
			return true
		}
	}
	return false
}

// shaping is the response filter requested by one tool call
type shaping struct {
	maxLevel int
	focus    map[string]bool
}

// shapingFor reads verbosity and focus_areas, falling back to the server
// defaults
func (s *Server) shapingFor(request mcp.CallToolRequest) (shaping, error) {
	args := request.GetArguments()

	verbosity := s.config.Response.Verbosity
	if raw, ok := args["verbosity"]; ok && raw != nil {
		v, ok := raw.(string)
		if !ok {
			return shaping{}, errors.InvalidParameter("verbosity", raw, "a string")
		}
		verbosity = v
	}
	if verbosity == "" {
		verbosity = config.VerbosityStandard
	}
	level, ok := verbosityLevels[verbosity]
	if !ok {
		return shaping{}, errors.InvalidParameter("verbosity", verbosity, "one of: minimal, focused, standard, comprehensive")
	}

	areas := s.config.Response.FocusAreas
	if raw, ok := args["focus_areas"]; ok && raw != nil {
		parsed, err := stringList(raw)
		if err != nil {
			return shaping{}, errors.InvalidParameter("focus_areas", raw, "an array of section names")
		}
		areas = parsed
	}

	sh := shaping{maxLevel: level}
	if len(areas) > 0 {
		sh.focus = make(map[string]bool, len(areas))
		for _, a := range areas {
			if !isFocusArea(a) {
				return shaping{}, errors.InvalidParameter("focus_areas", a, "any of: "+strings.Join(focusAreaNames(), ", "))
			}
			sh.focus[a] = true
		}
	}
	return sh, nil
}

// stringList accepts a JSON array of strings or a comma separated string
func stringList(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, errors.InvalidParameter("focus_areas", item, "a string")
			}
			out = append(out, strings.TrimSpace(str))
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, errors.InvalidParameter("focus_areas", raw, "an array of strings")
}

// apply removes the keys of doc that the caller did not ask for
func (sh shaping) apply(doc []byte) ([]byte, error) {
	var drop []string
	gjson.ParseBytes(doc).ForEach(func(key, _ gjson.Result) bool {
		rule, ok := fieldRules[key.String()]
		if !ok {
			return true
		}
		if rule.level > sh.maxLevel || (sh.focus != nil && !sh.focus[rule.section]) {
			drop = append(drop, key.String())
		}
		return true
	})
	sort.Strings(drop)

	var err error
	for _, key := range drop {
		if doc, err = sjson.DeleteBytes(doc, key); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// errorBody is the JSON text of a failed tool call
type errorBody struct {
	Error errorFields `json:"error"`
}

type errorFields struct {
	Code    errors.ErrorCode       `json:"code"`
	Kind    errors.Kind            `json:"kind"`
	Message string                 `json:"message"`
	Hint    string                 `json:"hint,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func errorResult(err error) *mcp.CallToolResult {
	de := errors.FromError(err)
	body, merr := json.Marshal(errorBody{Error: errorFields{
		Code:    de.Code,
		Kind:    de.Kind(),
		Message: de.Message,
		Hint:    de.Hint,
		Details: de.Details,
	}})
	if merr != nil {
		return mcp.NewToolResultError(de.Error())
	}
	return mcp.NewToolResultError(string(body))
}
