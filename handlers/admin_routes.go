// handlers/admin_routes.go
package handlers

import (
	"match-sync-service/middleware"
	"match-sync-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes mounts operator endpoints under /s/admin. The service
// itself decides who the operator is.
func SetupAdminRoutes(app fiber.Router, admin *services.AdminService, auth fiber.Handler) {
	secured := app.Group("/s/admin", auth)

	secured.Post("/reset", func(c *fiber.Ctx) error {
		sum, err := admin.Reset(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"reset": sum})
	})
}
