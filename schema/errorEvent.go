package schema

import "time"

// ErrorEvent is the wire record carried on the error bus. Every field except
// the failure text is optional; consumers must tolerate any subset being
// absent. Events are transient and never persisted.
type ErrorEvent struct {
	// Data carries an optional correlation id for the operation that failed.
	Data      string `json:"data,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"blad"`
	Timestamp string `json:"timestamp"`
}

// NewErrorEvent creates an ErrorEvent stamped with the publish time.
func NewErrorEvent(correlationID, flowID, userID, message string) *ErrorEvent {
	return &ErrorEvent{
		Data:      correlationID,
		FlowID:    flowID,
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}
