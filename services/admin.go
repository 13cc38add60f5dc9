package services

import (
	"context"

	"match-sync-service/models"
	"match-sync-service/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdminService holds operations reserved for the single operator identity.
type AdminService struct {
	DB       *gorm.DB
	RDB      redis.Cmdable
	Identity string
}

func NewAdminService(db *gorm.DB, rdb redis.Cmdable, identity string) *AdminService {
	return &AdminService{DB: db, RDB: rdb, Identity: identity}
}

type ResetSummary struct {
	Matches  int64 `json:"matches"`
	Actions  int64 `json:"actions"`
	Records  int64 `json:"records"`
	Profiles int64 `json:"profiles"`
	LiveKeys int   `json:"live_keys"`
}

// Reset wipes every match with its log, snapshot, live state and archive
// record, drops outstanding verification codes and puts every profile back to
// its defaults. Any caller but the operator is refused before anything is
// touched.
func (s *AdminService) Reset(ctx context.Context, caller string) (*ResetSummary, error) {
	if s.Identity == "" || caller != s.Identity {
		utils.Log.Warn("[Admin] reset refused", zap.String("caller", caller))
		return nil, ErrForbidden
	}

	var sum ResetSummary
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("1 = 1").Delete(&models.ActionEntry{})
		if res.Error != nil {
			return res.Error
		}
		sum.Actions = res.RowsAffected

		if err := tx.Unscoped().Where("1 = 1").Delete(&models.MatchSnapshot{}).Error; err != nil {
			return err
		}

		res = tx.Unscoped().Where("1 = 1").Delete(&models.GameRecord{})
		if res.Error != nil {
			return res.Error
		}
		sum.Records = res.RowsAffected

		res = tx.Unscoped().Where("1 = 1").Delete(&models.Match{})
		if res.Error != nil {
			return res.Error
		}
		sum.Matches = res.RowsAffected

		if err := tx.Unscoped().Where("1 = 1").Delete(&models.VerificationCode{}).Error; err != nil {
			return err
		}

		res = tx.Model(&models.PlayerProfile{}).Where("1 = 1").Updates(map[string]any{
			"rating":         models.DefaultRating,
			"stars":          0,
			"wins":           0,
			"losses":         0,
			"draws":          0,
			"recent_history": datatypes.JSON("[]"),
			"last_played_at": nil,
		})
		if res.Error != nil {
			return res.Error
		}
		sum.Profiles = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.RDB != nil {
		n, err := s.clearLive(ctx)
		if err != nil {
			return nil, err
		}
		sum.LiveKeys = n
	}

	utils.Log.Warn("[Admin] reset done",
		zap.String("caller", caller),
		zap.Int64("matches", sum.Matches),
		zap.Int64("records", sum.Records),
		zap.Int64("profiles", sum.Profiles))
	return &sum, nil
}

func (s *AdminService) clearLive(ctx context.Context) (int, error) {
	var keys []string
	iter := s.RDB.Scan(ctx, 0, "match:*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.RDB.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}
