package transfer

import "fmt"

// AuthError indicates the coordination service rejected the shared-secret pass.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "transfer: pass rejected"
	}
	return fmt.Sprintf("transfer: pass rejected: %s", e.Message)
}

// ValidationError indicates a request the service considers malformed, such as
// a content type outside the allowed list.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transfer: invalid request: %s", e.Message)
}

// NotFoundError indicates the named object does not exist upstream.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transfer: object not found: %s", e.Name)
}

// TransferError is a generic non-success response from an upload or download.
type TransferError struct {
	StatusCode int
	Status     string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer: request failed with status %d %s", e.StatusCode, e.Status)
}

// UpstreamError is any other non-success response from the coordination service.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transfer: coordination service error (status %d): %s", e.StatusCode, e.Message)
}
