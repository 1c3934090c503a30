package handlers

import (
	"permission-service/internal/apperrors"

	"github.com/gofiber/fiber/v3"
)

// respondError maps the engine's error taxonomy to HTTP statuses. Validation
// and concurrency errors are caller-correctable and keep their detail;
// not-found and authorization answers stay generic so responses cannot be
// used to probe other users' grants or a node's existence.
func respondError(c fiber.Ctx, err error) error {
	switch {
	case apperrors.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case apperrors.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	case apperrors.IsAuthorization(err):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Access denied",
		})
	case apperrors.IsConcurrency(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

// respondNodeNotFound is the uniform answer for both a missing node and a
// caller without administrative access to an existing one.
func respondNodeNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Not found",
	})
}
