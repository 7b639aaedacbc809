package schema

import "time"

// FlowError is a runtime error reported for a flow by the external execution
// system.
type FlowError struct {
	ID      string    `bson:"_id,omitempty" json:"id"`
	FlowID  string    `bson:"flow_id" json:"flow_id"`
	Message string    `bson:"message" json:"message"`
	Date    time.Time `bson:"date" json:"date"`
}

// NewFlowError creates a FlowError stamped with the current time.
func NewFlowError(flowID, message string) *FlowError {
	return &FlowError{
		FlowID:  flowID,
		Message: message,
		Date:    time.Now(),
	}
}
