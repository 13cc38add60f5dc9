// middleware/sse_auth.go
package middleware

import (
	"strings"

	"match-sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SSEAuthMiddleware authenticates event-stream requests. Browsers cannot set
// headers on an EventSource, so the JWT may come as the `token` query param;
// gateway-forwarded and header-authenticated requests work as usual.
//
// Usage:
//
//	app.Get("/matches/:id/actions/stream", middleware.SSEAuthMiddleware(secret), handler)
func SSEAuthMiddleware(secret []byte) fiber.Handler {
	header := UserContextMiddleware(secret)
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		if accessToken == "" {
			return header(c)
		}

		userID, err := utils.ParseToken(secret, accessToken)
		if err != nil {
			utils.Log.Debug("[SSEAuth] token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}
