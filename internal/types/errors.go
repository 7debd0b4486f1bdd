package types

// ErrorCode identifies an API failure as RESOURCE_STATUS.
type ErrorCode string

const (
	CodeCompositeInvalid   ErrorCode = "COMPOSITE_400"
	CodeCompositeNotFound  ErrorCode = "COMPOSITE_404"
	CodeTransitionRejected ErrorCode = "COMPOSITE_409"
	CodeCompositeFailed    ErrorCode = "COMPOSITE_500"
	CodePropertyInvalid    ErrorCode = "PROPERTY_400"
	CodePropertyNotFound   ErrorCode = "PROPERTY_404"
)

// ErrorBody carries a failed composite operation. Construction failures also
// report their class and the exit code the server would terminate with.
type ErrorBody struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Details  any       `json:"details,omitempty"`
	Class    string    `json:"class,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code ErrorCode, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// WithConstruction tags the response with a construction error class.
func (r ErrorResponse) WithConstruction(class string, exitCode int) ErrorResponse {
	r.Error.Class = class
	r.Error.ExitCode = exitCode
	return r
}
