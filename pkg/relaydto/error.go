package relaydto

// Error codes reported to clients over the websocket.
const (
	CodeAuthRejected    = "AUTH_REJECTED"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeIllegalMove     = "ILLEGAL_MOVE"
	CodeBadCommand      = "BAD_COMMAND"
	CodeInternal        = "INTERNAL"
)

type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "relay error"
}
