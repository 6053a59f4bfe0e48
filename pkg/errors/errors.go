package errors

import "net/http"

// AppError pairs an error message with the HTTP status it renders as.
// Handlers attach these via c.Error; the error middleware writes the response.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// NewAppError creates a new AppError
func NewAppError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Common errors
var (
	// ErrConversationNotFound doubles as the answer for conversations the
	// caller is not a participant of; existence is not leaked.
	ErrConversationNotFound = NewAppError(http.StatusNotFound, "Conversation not found")
	ErrRateLimit            = NewAppError(http.StatusTooManyRequests, "You're sending messages too fast. Please slow down.")
)

// Helper functions to create specific errors
func BadRequest(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, msg)
}

func Unauthorized(msg string) *AppError {
	return NewAppError(http.StatusUnauthorized, msg)
}

func PayloadTooLarge(msg string) *AppError {
	return NewAppError(http.StatusRequestEntityTooLarge, msg)
}

func Internal(msg string) *AppError {
	return NewAppError(http.StatusInternalServerError, msg)
}
