// Package control implements the Unix-socket control channel of the daemon.
//
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "status"} or
//     {"type": "set_capacity", "data": {"capacity": N}}
//   - Server responds: {"status": "ok", ...} or
//     {"status": "error", "error": "msg"}
package control

import (
	"encoding/json"
	"fmt"

	"lightmeter/internal/sampling"
)

// Request types.
const (
	TypeStatus      = "status"
	TypeSetCapacity = "set_capacity"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the envelope of a control request.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SetCapacityData is the payload of a set_capacity request.
type SetCapacityData struct {
	Capacity int `json:"capacity"`
}

// Response is sent back for every request line.
type Response struct {
	Status   string             `json:"status"`
	Error    string             `json:"error,omitempty"`
	Snapshot *sampling.Snapshot `json:"snapshot,omitempty"`
}

// StatusRequest builds a status request.
func StatusRequest() Request {
	return Request{Type: TypeStatus}
}

// SetCapacityRequest builds a set_capacity request.
func SetCapacityRequest(capacity int) (Request, error) {
	data, err := json.Marshal(SetCapacityData{Capacity: capacity})
	if err != nil {
		return Request{}, fmt.Errorf("marshal set_capacity: %w", err)
	}
	return Request{Type: TypeSetCapacity, Data: data}, nil
}

func errorResponse(format string, args ...any) Response {
	return Response{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}
