package services

import (
	"context"
	"errors"

	"match-sync-service/models"

	"gorm.io/gorm"
)

// ProfileService serves profile reads.
type ProfileService struct {
	DB *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

func (s *ProfileService) Get(ctx context.Context, identity string) (*models.PlayerProfile, error) {
	var p models.PlayerProfile
	if err := s.DB.WithContext(ctx).Where("id = ?", identity).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *ProfileService) Record(ctx context.Context, id string) (*models.GameRecord, error) {
	var r models.GameRecord
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &r, nil
}
