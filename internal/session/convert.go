package session

import (
	"fmt"

	"github.com/google/go-dap"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

func frameFromDAP(f dap.StackFrame) types.StackFrame {
	frame := types.StackFrame{
		Index:    f.Id,
		Function: f.Name,
		Line:     f.Line,
		Address:  f.InstructionPointerReference,
	}
	if f.Source != nil {
		frame.File = f.Source.Path
	}
	if f.ModuleId != nil {
		frame.Module = fmt.Sprint(f.ModuleId)
	}
	return frame
}

func framesFromDAP(frames []dap.StackFrame) []types.StackFrame {
	out := make([]types.StackFrame, 0, len(frames))
	for _, f := range frames {
		out = append(out, frameFromDAP(f))
	}
	return out
}

func variableFromDAP(expr string, v dap.Variable, scope string) types.Variable {
	return types.Variable{
		Name:  expr,
		Type:  v.Type,
		Value: v.Value,
		Scope: scope,
	}
}

// stopReason maps a parsed stop body to the public stop reason
func stopReason(body *dap.StoppedEventBody) types.StopReason {
	if body == nil {
		return types.StopUnknown
	}
	switch body.Reason {
	case adapters.ReasonBreakpoint:
		return types.StopBreakpoint
	case adapters.ReasonStep:
		return types.StopStep
	case adapters.ReasonException:
		return types.StopSignal
	}
	return types.StopUnknown
}
