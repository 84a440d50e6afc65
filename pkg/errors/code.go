package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Theme & assignment module errors
// 16000-16999: Admin errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Theme Module Errors (12000-12999) ==========

	// Theme catalog (12000-12099)
	ThemeNotFound     ErrorCode = 12000
	ThemeInactive     ErrorCode = 12001
	ThemeNameExists   ErrorCode = 12002
	ThemeCreateFailed ErrorCode = 12003
	ThemeUpdateFailed ErrorCode = 12004

	// Assignment (12100-12199)
	ThemeCapacityExceeded ErrorCode = 12100
	SelectionLocked       ErrorCode = 12101
	CascadeFailed         ErrorCode = 12102
	TransientConflict     ErrorCode = 12103
	AssignmentFailed      ErrorCode = 12104

	// Problem statements (12200-12299)
	ProblemStatementNotFound     ErrorCode = 12200
	ProblemStatementCreateFailed ErrorCode = 12201

	// Sync view (12300-12399)
	SnapshotUnavailable ErrorCode = 12300

	// ========== Admin Errors (16000-16999) ==========

	PermissionDenied     ErrorCode = 16000
	AdminOperationFailed ErrorCode = 16100
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Theme catalog
	ThemeNotFound:     "Theme not found",
	ThemeInactive:     "Theme is not accepting selections",
	ThemeNameExists:   "Theme name already exists",
	ThemeCreateFailed: "Failed to create theme",
	ThemeUpdateFailed: "Failed to update theme",

	// Assignment
	ThemeCapacityExceeded: "Theme is full",
	SelectionLocked:       "Theme selection is locked",
	CascadeFailed:         "Theme has no problem statement to assign",
	TransientConflict:     "Selection conflicted with concurrent requests, please retry",
	AssignmentFailed:      "Failed to assign theme",

	// Problem statements
	ProblemStatementNotFound:     "Problem statement not found",
	ProblemStatementCreateFailed: "Failed to create problem statement",

	// Sync
	SnapshotUnavailable: "Theme snapshot is unavailable",

	// Admin
	PermissionDenied:     "Permission denied",
	AdminOperationFailed: "Admin operation failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == PermissionDenied:
		return 403
	case c == NotFound, c == RecordNotFound, c == ThemeNotFound, c == ProblemStatementNotFound:
		return 404
	case c == ThemeInactive, c == ThemeCapacityExceeded, c == ThemeNameExists, c == RecordAlreadyExists:
		return 409
	case c == CascadeFailed:
		return 422
	case c == SelectionLocked:
		return 423
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == TransientConflict, c == SnapshotUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
