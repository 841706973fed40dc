package proxy

import "fmt"

// RoutingCode classifies why a tool call could not be routed.
type RoutingCode string

const (
	// RoutingNotFound means no registered tool carries the name.
	RoutingNotFound RoutingCode = "not_found"
	// RoutingNotConnected means the tool's backend is not Connected.
	RoutingNotConnected RoutingCode = "not_connected"
)

// RoutingError is the structured failure returned when a call cannot be
// forwarded. It is an expected runtime condition, never a panic.
type RoutingError struct {
	Code    RoutingCode
	Tool    string
	Backend string
}

func (e *RoutingError) Error() string {
	switch e.Code {
	case RoutingNotConnected:
		return fmt.Sprintf("tool %s: backend %s is not connected", e.Tool, e.Backend)
	default:
		return fmt.Sprintf("tool %s not found", e.Tool)
	}
}
