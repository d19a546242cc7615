// Package rpc implements C9: the JSON-RPC 2.0 style method registry and
// dispatch loop shared by every connection.
//
// Grounded on other_examples/487cd186_viant-jsonrpc__transport-server-base-session.go.go's
// per-connection session (buffered writer, request id sequence, framed
// send) generalized into a typed method registry over this project's own
// domain handlers, since the teacher has no RPC gateway of its own.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/kilnlabs/sessiond/internal/engineerr"
)

// Request is one parsed inbound JSON-RPC frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one outbound JSON-RPC frame: a reply (Result xor Error set)
// or, when ID is nil, a server-pushed notification.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error envelope, matching spec's documented
// shape exactly: code, message, data.category/data.retryable plus context.
type ErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// HandlerFunc executes one method call and returns its result payload.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Middleware wraps a HandlerFunc, e.g. for logging or timing.
type Middleware func(next HandlerFunc) HandlerFunc

// Method describes one registered RPC method.
type Method struct {
	Name           string
	RequiredParams []string
	Handler        HandlerFunc
	Description    string
}

// Registry is the closed set of methods a gateway connection dispatches
// against.
type Registry struct {
	methods     map[string]Method
	middlewares []Middleware
}

// NewRegistry builds an empty Registry.
func NewRegistry(middlewares ...Middleware) *Registry {
	return &Registry{methods: make(map[string]Method), middlewares: middlewares}
}

// Register adds a method, panicking on duplicate registration since the
// method set is fixed at startup wiring time, never at runtime.
func (r *Registry) Register(m Method) {
	if _, exists := r.methods[m.Name]; exists {
		panic("rpc: method already registered: " + m.Name)
	}
	r.methods[m.Name] = m
}

// Dispatch runs the full pipeline: lookup, required-param validation,
// middleware chain, handler. It never returns a Go error; all failures are
// encoded into the returned Response's Error field per the JSON-RPC
// envelope, ready to marshal and send.
func (r *Registry) Dispatch(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	m, ok := r.methods[req.Method]
	if !ok {
		resp.Error = toErrorObject(engineerr.MethodNotFound(req.Method))
		return resp
	}

	if len(m.RequiredParams) > 0 {
		var raw map[string]json.RawMessage
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &raw); err != nil {
				resp.Error = toErrorObject(engineerr.ParseError(err))
				return resp
			}
		}
		for _, name := range m.RequiredParams {
			v, present := raw[name]
			if !present || string(v) == "null" {
				resp.Error = toErrorObject(engineerr.InvalidParams("missing required param: " + name))
				return resp
			}
		}
	}

	handler := m.Handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = toErrorObject(err)
		return resp
	}
	resp.Result = result
	return resp
}

// toErrorObject maps a typed engine error onto the JSON-RPC error envelope;
// any other error is treated as an unhandled internal failure per spec's
// "unhandled exceptions at the RPC boundary become -32603" policy.
func toErrorObject(err error) *ErrorObject {
	ee, ok := engineerr.As(err)
	if !ok {
		ee = engineerr.Internal("unhandled", err)
	}
	data := map[string]any{
		"category":  string(ee.Category),
		"retryable": ee.Retryable,
	}
	for k, v := range ee.Data {
		data[k] = v
	}
	return &ErrorObject{Code: ee.Code, Message: ee.Message, Data: data}
}

// Notification builds a server-pushed frame (no id) for broadcast methods
// such as agent.text_delta or session.status.
func Notification(method string, params any) Response {
	return Response{JSONRPC: "2.0", Method: method, Result: params}
}
