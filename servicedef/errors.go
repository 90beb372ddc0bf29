package servicedef

import "fmt"

// ErrorCode is the numeric code of a JSON-RPC error returned by the service.
type ErrorCode int

const (
	AccessDenied    ErrorCode = 1
	InvalidArgument ErrorCode = 2
	Timeout         ErrorCode = 3
	BadState        ErrorCode = 4
	Overflow        ErrorCode = 5
	ItemNotFound    ErrorCode = 6

	// MethodNotFound is the standard JSON-RPC code for an unknown method.
	MethodNotFound ErrorCode = -32601
	// InvalidRequest is the standard JSON-RPC code for a malformed request.
	InvalidRequest ErrorCode = -32600
)

func (c ErrorCode) String() string {
	switch c {
	case AccessDenied:
		return "AccessDenied"
	case InvalidArgument:
		return "InvalidArgument"
	case Timeout:
		return "Timeout"
	case BadState:
		return "BadState"
	case Overflow:
		return "Overflow"
	case ItemNotFound:
		return "ItemNotFound"
	case MethodNotFound:
		return "MethodNotFound"
	case InvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}
