package models

// ResultEnvelope is the uniform result of every top-level operation. Callers
// branch on Success instead of on returned errors.
type ResultEnvelope struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"errorCode,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Succeeded wraps data in a successful envelope.
func Succeeded(data any) ResultEnvelope {
	return ResultEnvelope{Success: true, Data: data}
}

// Failed builds a failure envelope.
func Failed(code, msg string) ResultEnvelope {
	return ResultEnvelope{Success: false, Error: msg, ErrorCode: code}
}
