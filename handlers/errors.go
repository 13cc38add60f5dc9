package handlers

import (
	"errors"

	"match-sync-service/services"
	"match-sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{services.ErrMatchNotFound, fiber.StatusNotFound},
	{services.ErrProfileNotFound, fiber.StatusNotFound},
	{services.ErrRecordNotFound, fiber.StatusNotFound},
	{services.ErrSnapshotAbsent, fiber.StatusNotFound},
	{services.ErrIntentAbsent, fiber.StatusNotFound},
	{services.ErrCodeNotFound, fiber.StatusNotFound},

	{services.ErrForbidden, fiber.StatusForbidden},

	{services.ErrMatchNotActive, fiber.StatusConflict},
	{services.ErrMatchClosed, fiber.StatusConflict},
	{services.ErrNotYourTurn, fiber.StatusConflict},
	{services.ErrConflict, fiber.StatusConflict},
	{services.ErrSnapshotAhead, fiber.StatusConflict},
	{services.ErrSnapshotStale, fiber.StatusConflict},
	{services.ErrCodeConsumed, fiber.StatusConflict},

	{services.ErrInvalidMatch, fiber.StatusBadRequest},
	{services.ErrInvalidAction, fiber.StatusBadRequest},
	{services.ErrInvalidPayload, fiber.StatusBadRequest},
	{services.ErrCodeMismatch, fiber.StatusBadRequest},

	{services.ErrRateLimited, fiber.StatusTooManyRequests},
	{services.ErrCodeLocked, fiber.StatusLocked},
	{services.ErrCodeExpired, fiber.StatusGone},
}

func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return fiber.StatusInternalServerError
}

// writeError maps a service error to its HTTP status. Unknown errors are
// logged and hidden behind a generic 500.
func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		utils.Log.Error("[HTTP] request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
