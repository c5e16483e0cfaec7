package domain

// OpResult is the structured outcome returned to collaborators.
type OpResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK builds a successful result.
func OK(message string, data map[string]any) OpResult {
	return OpResult{Success: true, Message: message, Data: data}
}

// Failed builds a failed result from an error.
func Failed(err error) OpResult {
	if err == nil {
		return OpResult{Success: false, Message: "unknown error"}
	}
	return OpResult{Success: false, Message: err.Error()}
}
