package server

import (
	"errors"
	"log/slog"
	"strings"

	"everyday/internal/middleware"
	"everyday/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errorHandler renders errors that escape a handler, including fiber's own
// 404, 405 and 413, in the API error shape.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		resp := models.ErrorResponse{Error: fe.Message}
		switch fe.Code {
		case fiber.StatusNotFound:
			resp.Code = models.CodeNotFound
		case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest, fiber.StatusMethodNotAllowed:
			resp.Code = models.CodeValidation
		}
		return c.Status(fe.Code).JSON(resp)
	}

	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// respondError maps a service error to its status. Server-side failures are
// logged with their cause, which never reaches the client.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusForError(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.Int("status", status),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// methodNotAllowed answers every verb not registered before it on the path.
func methodNotAllowed(allowed ...string) fiber.Handler {
	allow := strings.Join(allowed, ", ")
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAllow, allow)
		return c.Status(fiber.StatusMethodNotAllowed).JSON(models.ErrorResponse{
			Error: "Method " + c.Method() + " not allowed",
			Code:  models.CodeValidation,
		})
	}
}

// firstValue returns the first value of a multi-valued form field.
func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
