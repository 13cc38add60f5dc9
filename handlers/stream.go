// handlers/stream.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"match-sync-service/middleware"
	"match-sync-service/models"
	"match-sync-service/services"
	"match-sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type StreamOptions struct {
	PollInterval time.Duration
	KeepAlive    time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	return o
}

// streamActions serves the action log as server-sent events. Without ?after
// the stream starts at the current end of the log, so only entries appended
// after subscription are sent. A seated caller is marked online for the
// lifetime of the stream and offline when it ends, however it ends.
func streamActions(deps MatchDeps) fiber.Handler {
	opts := deps.Stream.withDefaults()

	return func(c *fiber.Ctx) error {
		matchID := c.Params("id")
		caller := middleware.UserID(c)

		m, err := deps.Matches.Get(c.UserContext(), matchID)
		if err != nil {
			return writeError(c, err)
		}

		cursor := m.LastSeq
		if raw := c.Query("after"); raw != "" {
			after, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || after < 0 {
				return badRequest(c, "after must be a non-negative sequence number")
			}
			cursor = after
		}

		seat := m.SeatOf(caller)
		tracked := seat != models.SeatNone && deps.Presence != nil
		if tracked {
			if _, err := deps.Presence.Set(c.UserContext(), matchID, caller, true); err != nil {
				utils.Log.Warn("[SSE] presence online write failed", zap.String("match_id", matchID), zap.Error(err))
			}
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		done := c.Context().Done()

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ctx := context.Background()
			if tracked {
				defer func() {
					if err := deps.Presence.MarkOffline(ctx, matchID, seat, caller); err != nil {
						utils.Log.Warn("[SSE] presence offline write failed", zap.String("match_id", matchID), zap.Error(err))
					}
				}()
			}

			ticker := time.NewTicker(opts.PollInterval)
			defer ticker.Stop()

			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}
			lastWrite := time.Now()

			for {
				entries, err := deps.Actions.Since(ctx, matchID, cursor)
				switch {
				case errors.Is(err, services.ErrMatchNotFound):
					return
				case err != nil:
					utils.Log.Warn("[SSE] poll failed", zap.String("match_id", matchID), zap.Error(err))
				case len(entries) > 0:
					for _, e := range entries {
						payload, _ := json.Marshal(e)
						fmt.Fprintf(w, "event: action\nid: %d\ndata: %s\n\n", e.Seq, payload)
						cursor = e.Seq
					}
					if err := w.Flush(); err != nil {
						// client went away
						return
					}
					lastWrite = time.Now()
				default:
					if ended(ctx, deps.Matches, matchID, cursor, w) {
						return
					}
				}

				if time.Since(lastWrite) >= opts.KeepAlive {
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
					lastWrite = time.Now()
				}

				select {
				case <-ticker.C:
				case <-done:
					return
				}
			}
		})

		return nil
	}
}

// ended writes the closing event once a finished match has nothing left to send.
func ended(ctx context.Context, matches *services.MatchService, matchID string, cursor int64, w *bufio.Writer) bool {
	m, err := matches.Get(ctx, matchID)
	if err != nil || !m.Closed() || m.LastSeq > cursor {
		return errors.Is(err, services.ErrMatchNotFound)
	}
	payload, _ := json.Marshal(fiber.Map{
		"status":     m.Status,
		"winner":     m.Winner,
		"is_draw":    m.IsDraw,
		"last_seq":   m.LastSeq,
		"end_reason": m.EndReason,
	})
	fmt.Fprintf(w, "event: end\ndata: %s\n\n", payload)
	_ = w.Flush()
	return true
}
