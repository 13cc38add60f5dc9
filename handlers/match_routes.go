// handlers/match_routes.go
package handlers

import (
	"encoding/json"
	"strconv"

	"match-sync-service/middleware"
	"match-sync-service/models"
	"match-sync-service/services"

	"github.com/gofiber/fiber/v2"
)

type MatchDeps struct {
	Matches   *services.MatchService
	Actions   *services.ActionLogService
	Snapshots *services.SnapshotService
	Intents   *services.IntentService
	Presence  *services.PresenceService
	Stream    StreamOptions
}

type appendRequest struct {
	Kind      models.ActionKind `json:"kind"`
	Payload   json.RawMessage   `json:"payload"`
	ClientKey string            `json:"client_key"`
}

type snapshotRequest struct {
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type presenceRequest struct {
	Online bool `json:"online"`
}

type statusRequest struct {
	Change services.StatusChange `json:"change"`
}

// SetupMatchRoutes mounts the match sync API. auth resolves the caller for
// plain requests, sseAuth for the event stream.
func SetupMatchRoutes(app fiber.Router, deps MatchDeps, auth, sseAuth fiber.Handler) {
	app.Get("/matches/:id/actions/stream", sseAuth, streamActions(deps))

	secured := app.Group("/matches", auth)

	secured.Post("/", func(c *fiber.Ctx) error {
		var in services.CreateMatchInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		m, err := deps.Matches.Create(c.UserContext(), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	secured.Get("/:id", func(c *fiber.Ctx) error {
		m, err := deps.Matches.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/:id/start", func(c *fiber.Ctx) error {
		m, err := deps.Matches.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		if m.SeatOf(middleware.UserID(c)) == models.SeatNone {
			return writeError(c, services.ErrForbidden)
		}
		m, err = deps.Matches.Start(c.UserContext(), m.ID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/:id/actions", func(c *fiber.Ctx) error {
		var req appendRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if len(req.ClientKey) > 64 {
			return badRequest(c, "client_key is too long")
		}
		entry, err := deps.Actions.AppendWithKey(c.UserContext(), c.Params("id"), middleware.UserID(c), req.ClientKey, req.Kind, req.Payload)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	secured.Get("/:id/actions", func(c *fiber.Ctx) error {
		after, err := strconv.ParseInt(c.Query("after", "0"), 10, 64)
		if err != nil || after < 0 {
			return badRequest(c, "after must be a non-negative sequence number")
		}
		entries, err := deps.Actions.Since(c.UserContext(), c.Params("id"), after)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"actions": entries})
	})

	secured.Put("/:id/snapshot", func(c *fiber.Ctx) error {
		var req snapshotRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		snap, err := deps.Snapshots.Commit(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Seq, req.Payload)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(snap)
	})

	secured.Get("/:id/snapshot", func(c *fiber.Ctx) error {
		snap, err := deps.Snapshots.Load(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(snap)
	})

	secured.Put("/:id/intent", func(c *fiber.Ctx) error {
		var in models.LiveIntent
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		out, err := deps.Intents.Put(c.UserContext(), c.Params("id"), middleware.UserID(c), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(out)
	})

	secured.Get("/:id/intent", func(c *fiber.Ctx) error {
		in, err := deps.Intents.Latest(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(in)
	})

	secured.Put("/:id/presence", func(c *fiber.Ctx) error {
		var req presenceRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		rec, err := deps.Presence.Set(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Online)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(rec)
	})

	secured.Get("/:id/presence", func(c *fiber.Ctx) error {
		recs, err := deps.Presence.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"presence": recs})
	})

	secured.Post("/:id/status", func(c *fiber.Ctx) error {
		var req statusRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		m, err := deps.Matches.WriteStatus(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Change)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(m)
	})
}
