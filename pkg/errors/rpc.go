package errors

import (
	"encoding/json"
	"fmt"
)

/*
ToolError is the structured failure fed back to a model as a tool result so it
can correct its call. Codes follow JSON-RPC conventions.
*/
type ToolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

var (
	ErrToolUnknown       = &ToolError{Code: -32601, Message: "Unknown tool"}
	ErrToolInvalidParams = &ToolError{Code: -32602, Message: "Invalid params"}
	ErrToolFailed        = &ToolError{Code: -32603, Message: "Tool execution failed"}
	ErrToolBudget        = &ToolError{Code: -32004, Message: "Tool budget exhausted"}
)

/*
WithMessagef returns a copy of e with a formatted message, leaving the shared
value untouched.
*/
func (e *ToolError) WithMessagef(format string, args ...any) *ToolError {
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

/*
WithData returns a copy of e carrying data.
*/
func (e *ToolError) WithData(data any) *ToolError {
	out := *e
	out.Data = data
	return &out
}

/*
JSON renders the error as the payload of a tool-result message.
*/
func (e *ToolError) JSON() string {
	buf, err := json.Marshal(map[string]any{"error": e})

	if err != nil {
		return fmt.Sprintf(`{"error":{"code":%d,"message":%q}}`, e.Code, e.Message)
	}

	return string(buf)
}
