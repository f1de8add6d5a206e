// Package driver implements the Flutter Driver protocol over the Dart VM
// service WebSocket. The Client manages one session per target process;
// the protocol layer handles the JSON-RPC envelope and response taxonomy.
package driver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// DriverExtension is the VM service extension the target app must register
// (enableFlutterDriverExtension in the app's main).
const DriverExtension = "ext.flutter.driver"

// Flutter Driver command names.
const (
	CmdTap                = "tap"
	CmdScroll             = "scroll"
	CmdScrollIntoView     = "scrollIntoView"
	CmdEnterText          = "enter_text"
	CmdGetText            = "get_text"
	CmdGetOffset          = "get_offset"
	CmdGetRenderTree      = "get_render_tree"
	CmdGetSemanticsTree   = "get_semantics_tree"
	CmdWaitFor            = "waitFor"
	CmdWaitForAbsent      = "waitForAbsent"
	CmdWaitForCondition   = "waitForCondition"
	CmdSetFrameSync       = "set_frame_sync"
	CmdRequestData        = "request_data"
	CmdScreenshot         = "screenshot"
)

// Request is one Flutter Driver command.
type Request struct {
	Command string
	Params  map[string]interface{}
	Timeout time.Duration // 0 means the client default
}

// driverCommand renders the command in the shape the driver extension expects.
// The driver encodes its timeout in microseconds.
func (r Request) driverCommand() map[string]interface{} {
	cmd := map[string]interface{}{"command": r.Command}
	for k, v := range r.Params {
		cmd[k] = v
	}
	if r.Timeout > 0 {
		cmd["timeout"] = r.Timeout.Microseconds()
	}
	return cmd
}

// Response is the parsed outcome of one request. Three outcomes exist:
// protocol-level error (Err set, IsError true), backend-level logical failure
// (the extension reports isError inside a success-shaped envelope), and
// success with Result populated.
type Response struct {
	Success bool
	Result  map[string]interface{}
	Err     string
	IsError bool
}

// rpcMessage is the raw VM service JSON-RPC envelope.
type rpcMessage struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Protocol tracks request-id allocation for one session.
type Protocol struct {
	requestID atomic.Int64
}

// NextID generates the next correlation id.
func (p *Protocol) NextID() string {
	return strconv.FormatInt(p.requestID.Add(1), 10)
}

// VMServiceRequest creates a VM service JSON-RPC request envelope.
func (p *Protocol) VMServiceRequest(method string, params map[string]interface{}) map[string]interface{} {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      p.NextID(),
		"method":  method,
	}
	if len(params) > 0 {
		req["params"] = params
	}
	return req
}

// DriverRequest wraps a driver command in the extension envelope for the
// selected isolate.
func (p *Protocol) DriverRequest(isolateID string, r Request) map[string]interface{} {
	params := map[string]interface{}{"isolateId": isolateID}
	for k, v := range r.driverCommand() {
		params[k] = v
	}
	return p.VMServiceRequest(DriverExtension, params)
}

// ParseResponse classifies a raw VM service response.
func ParseResponse(msg rpcMessage) Response {
	if len(msg.Error) > 0 {
		return Response{Success: false, Err: parseRPCError(msg.Error), IsError: true}
	}

	var result map[string]interface{}
	if len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			return Response{Success: false, Err: fmt.Sprintf("malformed result: %v", err), IsError: true}
		}
	}

	// The driver extension reports logical failures inside a success envelope.
	if isErr, _ := result["isError"].(bool); isErr {
		message := "unknown driver error"
		if resp, ok := result["response"].(string); ok && resp != "" {
			message = resp
		} else if m, ok := result["message"].(string); ok && m != "" {
			message = m
		}
		return Response{Success: false, Err: message, IsError: true, Result: result}
	}

	return Response{Success: true, Result: result}
}

func parseRPCError(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
		Data    struct {
			Details string `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Data.Details != "" {
			return obj.Message + ": " + obj.Data.Details
		}
		return obj.Message
	}
	return string(raw)
}
