package api

import (
	"errors"

	"fapchat/logger"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders Error and ValidationError as JSON and turns anything
// unexpected into a 500.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Code).JSON(apiErr)
		}
		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
		}

		log.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		internal := ErrInternal()
		return c.Status(internal.Code).JSON(internal)
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingQuery() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "missing query",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "missing file",
	}
}

func ErrNotReady(reason string) Error {
	return Error{
		Code:    fiber.StatusServiceUnavailable,
		Message: reason,
	}
}

func ErrInternal() Error {
	return Error{
		Code:    fiber.StatusInternalServerError,
		Message: "internal server error",
	}
}
