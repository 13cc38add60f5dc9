// handlers/verification_routes.go
package handlers

import (
	"match-sync-service/middleware"
	"match-sync-service/services"

	"github.com/gofiber/fiber/v2"
)

type validateRequest struct {
	Code string `json:"code"`
}

// SetupVerificationRoutes mounts the one-time code flow for the calling identity.
func SetupVerificationRoutes(app fiber.Router, verify *services.VerificationService, auth fiber.Handler) {
	secured := app.Group("/verification", auth)

	secured.Post("/issue", func(c *fiber.Ctx) error {
		rec, err := verify.Issue(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"issued_at":  rec.IssuedAt,
			"expires_at": rec.ExpiresAt,
		})
	})

	secured.Post("/validate", func(c *fiber.Ctx) error {
		var req validateRequest
		if err := c.BodyParser(&req); err != nil || req.Code == "" {
			return badRequest(c, "code is required")
		}
		if err := verify.Validate(c.UserContext(), middleware.UserID(c), req.Code); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"verified": true})
	})
}
