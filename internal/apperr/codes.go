package apperr

// Code classifies an application error for transport mapping.
type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeConflict        Code = "CONFLICT"
	CodeGone            Code = "GONE"
	CodeUnavailable     Code = "UNAVAILABLE"
)
