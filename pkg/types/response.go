package types

// SuccessEnvelope wraps every successful billing API response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the wire form of a coded billing error; Code carries the
// machine-readable taxonomy value (VALIDATION_ERROR, FORBIDDEN, ...).
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every billing API error response body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
