package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"match-sync-service/models"
	"match-sync-service/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MatchService struct {
	DB        *gorm.DB
	Finalizer FinalizeTrigger
}

func NewMatchService(db *gorm.DB, fin FinalizeTrigger) *MatchService {
	return &MatchService{DB: db, Finalizer: fin}
}

type CreateMatchInput struct {
	Seat1          string               `json:"seat1"`
	Seat2          string               `json:"seat2"`
	FirstMoverSeat models.Seat          `json:"first_mover_seat"`
	Clock          models.ClockSettings `json:"settings"`
	Start          bool                 `json:"start"` // go straight to ACTIVE
}

// Create registers a PENDING match (ACTIVE when in.Start is set).
func (s *MatchService) Create(ctx context.Context, in CreateMatchInput) (*models.Match, error) {
	in.Seat1 = strings.TrimSpace(in.Seat1)
	in.Seat2 = strings.TrimSpace(in.Seat2)
	if in.Seat1 == "" || in.Seat2 == "" || in.Seat1 == in.Seat2 {
		return nil, fmt.Errorf("%w: two distinct identities are required", ErrInvalidMatch)
	}
	if in.FirstMoverSeat == models.SeatNone {
		in.FirstMoverSeat = models.SeatOne
	}
	if !in.FirstMoverSeat.Valid() {
		return nil, fmt.Errorf("%w: first mover seat %d", ErrInvalidMatch, in.FirstMoverSeat)
	}
	switch in.Clock.Mode {
	case "":
		in.Clock.Mode = models.ClockUntimed
	case models.ClockUntimed:
	case models.ClockPerTurn:
		if in.Clock.TurnSeconds <= 0 {
			return nil, fmt.Errorf("%w: per_turn clock needs turn_seconds > 0", ErrInvalidMatch)
		}
	default:
		return nil, fmt.Errorf("%w: unknown clock mode %q", ErrInvalidMatch, in.Clock.Mode)
	}

	m := models.Match{
		ID:             uuid.NewString(),
		Seat1:          in.Seat1,
		Seat2:          in.Seat2,
		Status:         models.MatchPending,
		Clock:          in.Clock,
		FirstMoverSeat: in.FirstMoverSeat,
	}
	if err := s.DB.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	utils.Log.Info("[Match] created",
		zap.String("match_id", m.ID),
		zap.String("seat1", m.Seat1),
		zap.String("seat2", m.Seat2),
		zap.String("clock", string(m.Clock.Mode)))

	if in.Start {
		return s.Start(ctx, m.ID)
	}
	return &m, nil
}

// Start moves a PENDING match to ACTIVE, puts the first mover on turn and arms
// the first deadline. Starting an already ACTIVE match is a no-op.
func (s *MatchService) Start(ctx context.Context, id string) (*models.Match, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case models.MatchActive:
		return m, nil
	case models.MatchPending:
	default:
		return nil, ErrMatchClosed
	}

	res := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status = ? AND revision = ?", id, models.MatchPending, m.Revision).
		Updates(map[string]any{
			"status":      models.MatchActive,
			"active_seat": m.FirstMoverSeat,
			"timeout_at":  m.Clock.Deadline(timeNow()),
			"revision":    gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return s.Get(ctx, id)
}

func (s *MatchService) Get(ctx context.Context, id string) (*models.Match, error) {
	return loadMatch(s.DB.WithContext(ctx), id)
}

type StatusChange string

const (
	StatusResign StatusChange = "resign"
	StatusDraw   StatusChange = "draw"
)

// WriteStatus ends an ACTIVE match on a player's request. Resigning hands the
// win to the opponent; a draw has no winner. The write is conditional on the
// match still being ACTIVE and unfinalized, so it loses cleanly to a
// concurrent timeout or MATCH_END.
func (s *MatchService) WriteStatus(ctx context.Context, id, caller string, change StatusChange) (*models.Match, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seat := m.SeatOf(caller)
	if seat == models.SeatNone {
		return nil, ErrForbidden
	}
	if m.Closed() {
		return nil, ErrMatchClosed
	}
	if m.Status != models.MatchActive {
		return nil, ErrMatchNotActive
	}

	var outcome models.Outcome
	switch change {
	case StatusResign:
		outcome = models.Outcome{Winner: seat.Opponent(), Reason: "resign"}
	case StatusDraw:
		outcome = models.Outcome{Draw: true, Reason: "draw"}
	default:
		return nil, fmt.Errorf("%w: unknown status change %q", ErrInvalidAction, change)
	}

	res := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status = ? AND finalization_done = ?", id, models.MatchActive, false).
		Updates(finishUpdates(outcome))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrMatchClosed
	}
	utils.Log.Info("[Match] status written",
		zap.String("match_id", id),
		zap.String("change", string(change)),
		zap.Int("by_seat", int(seat)))

	trigger(ctx, s.Finalizer, id)
	return s.Get(ctx, id)
}

func loadMatch(db *gorm.DB, id string) (*models.Match, error) {
	var m models.Match
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &m, nil
}

// finishUpdates is the column set of every ACTIVE -> FINISHED transition. The
// deadline is cleared in the same write so the arbiter cannot fire again.
func finishUpdates(o models.Outcome) map[string]any {
	winner := o.Winner
	if o.Draw {
		winner = models.SeatNone
	}
	return map[string]any{
		"status":      models.MatchFinished,
		"winner":      winner,
		"is_draw":     o.Draw,
		"end_reason":  o.Reason,
		"timeout_at":  nil,
		"active_seat": models.SeatNone,
		"revision":    gorm.Expr("revision + 1"),
	}
}
