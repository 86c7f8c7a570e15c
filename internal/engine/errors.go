package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Error   *AppError `json:"error"`
}

func NewErrorResponse(appErr *AppError) ErrorResponse {
	return ErrorResponse{Status: "error", Message: appErr.Message, Error: appErr}
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func BadRequestError(msg string) *AppError {
	return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, msg)
}

func UnauthorizedError(msg string) *AppError {
	return NewAppError("UNAUTHORIZED", fiber.StatusUnauthorized, msg)
}

func ForbiddenError(msg string) *AppError {
	return NewAppError("FORBIDDEN", fiber.StatusForbidden, msg)
}

func ValidationError(details []ErrorDetail) *AppError {
	msg := "Validation failed"
	if len(details) == 1 {
		msg = details[0].Message
	}
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  fiber.StatusBadRequest,
		Message: msg,
		Details: details,
	}
}

func RangeError(page, totalPages int) *AppError {
	return NewAppError("PAGE_OUT_OF_RANGE", fiber.StatusBadRequest,
		fmt.Sprintf("Page %d is out of range (total pages: %d)", page, totalPages))
}

// UpstreamError reports a failing collaborator: the blob store, an export
// library or the AI provider.
func UpstreamError(status int, msg string) *AppError {
	return NewAppError("UPSTREAM_ERROR", status, msg)
}

func ConflictError(msg string) *AppError {
	return NewAppError("CONFLICT", fiber.StatusConflict, msg)
}

func UnknownTableError(slug string) *AppError {
	return NewAppError("UNKNOWN_TABLE", fiber.StatusNotFound, fmt.Sprintf("Unknown table: %s", slug))
}

func NotFoundError(table, id string) *AppError {
	return NewAppError("NOT_FOUND", fiber.StatusNotFound, fmt.Sprintf("%s with id %s not found", table, id))
}

func NoDataError(table string) *AppError {
	return NewAppError("NO_DATA", fiber.StatusNotFound, fmt.Sprintf("No %s data to export", table))
}

// AsAppError maps err onto the taxonomy. Errors that are not part of it
// return nil.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewAppError(fiberCode(fiberErr.Code), fiberErr.Code, fiberErr.Message)
	}
	return nil
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusRequestEntityTooLarge:
		return "FILE_TOO_LARGE"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	}
	if status < 500 {
		return "INVALID_PAYLOAD"
	}
	return "INTERNAL_ERROR"
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(NewErrorResponse(appErr))
}
