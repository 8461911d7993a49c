package types

import "fmt"

// Areas prefix the error codes of the REST API, e.g. PAD_404 or ACCOUNT_409.
const (
	AreaAuth     = "AUTH"
	AreaCallback = "CALLBACK"
	AreaPad      = "PAD"
	AreaPipeline = "PIPELINE"
	AreaProxy    = "PROXY"
	AreaStatus   = "STATUS"
	AreaAccount  = "ACCOUNT"
	AreaFleet    = "FLEET"
	AreaStats    = "STATS"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the body of every non-2xx REST response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the error body for code, which is an area joined
// with the HTTP status. details is whatever helps the caller: the offending
// pad code, a validation error, the upstream message.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Fail returns the HTTP status together with its error body, so that a
// handler can write c.JSON(types.Fail(types.AreaFleet, 400, ...)).
func Fail(area string, status int, message string, details any) (int, ErrorResponse) {
	return status, NewErrorResponse(fmt.Sprintf("%s_%d", area, status), message, details)
}
