// handlers/router.go
package handlers

import (
	"strings"

	"match-sync-service/middleware"
	"match-sync-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Services struct {
	Matches      *services.MatchService
	Actions      *services.ActionLogService
	Snapshots    *services.SnapshotService
	Intents      *services.IntentService
	Presence     *services.PresenceService
	Profiles     *services.ProfileService
	Admin        *services.AdminService
	Verification *services.VerificationService
}

type RouterConfig struct {
	AllowedOrigins []string
	GatewayToken   string
	JWTSecret      []byte
	Stream         StreamOptions
}

// NewApp builds the fiber app with every route mounted.
func NewApp(svc Services, cfg RouterConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,PUT,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth := middleware.UserContextMiddleware(cfg.JWTSecret)
	sseAuth := middleware.SSEAuthMiddleware(cfg.JWTSecret)

	SetupMatchRoutes(app, MatchDeps{
		Matches:   svc.Matches,
		Actions:   svc.Actions,
		Snapshots: svc.Snapshots,
		Intents:   svc.Intents,
		Presence:  svc.Presence,
		Stream:    cfg.Stream,
	}, auth, sseAuth)
	SetupProfileRoutes(app, svc.Profiles, auth)
	SetupAdminRoutes(app, svc.Admin, auth)
	SetupVerificationRoutes(app, svc.Verification, auth)

	return app
}
