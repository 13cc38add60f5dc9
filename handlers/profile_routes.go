// handlers/profile_routes.go
package handlers

import (
	"match-sync-service/middleware"
	"match-sync-service/services"

	"github.com/gofiber/fiber/v2"
)

type profileView struct {
	ID            string `json:"id"`
	Rating        int    `json:"rating"`
	Stars         int    `json:"stars"`
	Tier          int    `json:"tier"`
	Wins          int64  `json:"wins"`
	Losses        int64  `json:"losses"`
	Draws         int64  `json:"draws"`
	RecentHistory any    `json:"recent_history"`
}

func SetupProfileRoutes(app fiber.Router, profiles *services.ProfileService, auth fiber.Handler) {
	getProfile := func(c *fiber.Ctx, id string) error {
		p, err := profiles.Get(c.UserContext(), id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(profileView{
			ID:            p.ID,
			Rating:        p.Rating,
			Stars:         p.Stars,
			Tier:          services.TierIndex(p.Stars),
			Wins:          p.Wins,
			Losses:        p.Losses,
			Draws:         p.Draws,
			RecentHistory: p.History(),
		})
	}

	app.Get("/profiles/me", auth, func(c *fiber.Ctx) error {
		return getProfile(c, middleware.UserID(c))
	})

	app.Get("/profiles/:id", auth, func(c *fiber.Ctx) error {
		return getProfile(c, c.Params("id"))
	})

	app.Get("/records/:id", auth, func(c *fiber.Ctx) error {
		rec, err := profiles.Record(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(rec)
	})
}
