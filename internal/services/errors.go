package services

import "fmt"

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// BadRequestError reports a malformed or unsatisfiable request. Fields maps
// request fields to what is wrong with them.
type BadRequestError struct {
	Message string
	Fields  map[string]string
}

func (e *BadRequestError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// InternalError wraps a storage or provider failure. Message is safe to show
// to clients; Err is for logs.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
