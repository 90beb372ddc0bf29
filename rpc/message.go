package rpc

import (
	"encoding/json"
	"fmt"
)

const protocolVersion = "2.0"

// Message is a single JSON-RPC 2.0 frame. Requests have an ID and a method, notifications
// have a method and no ID, responses have an ID and no method.
type Message struct {
	Version string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *CallError      `json:"error,omitempty"`
}

func (m Message) IsRequest() bool      { return m.ID != nil && m.Method != "" }
func (m Message) IsNotification() bool { return m.ID == nil && m.Method != "" }
func (m Message) IsResponse() bool     { return m.ID != nil && m.Method == "" }

// CallError is the error object of a failed call. Its Code is the service's error code and is
// never altered by the transport.
type CallError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %d", e.Code)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// NewResponse builds a successful response to the request with the given ID.
func NewResponse(id uint64, result interface{}) (Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{Version: protocolVersion, ID: &id, Result: data}, nil
}

// NewErrorResponse builds a failed response to the request with the given ID.
func NewErrorResponse(id uint64, code int, message string) Message {
	return Message{Version: protocolVersion, ID: &id, Error: &CallError{Code: code, Message: message}}
}

// NewNotification builds a notification carrying params as-is (an object or an array).
func NewNotification(method string, params interface{}) (Message, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Version: protocolVersion, Method: method, Params: data}, nil
}

func marshalParams(args []interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	return json.Marshal(args)
}
