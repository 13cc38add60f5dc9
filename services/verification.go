package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"match-sync-service/models"
	"match-sync-service/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultCodeReissueInterval = time.Minute
	DefaultCodeTTL             = 10 * time.Minute
	DefaultCodeMaxAttempts     = 5
	codeDigits                 = 6
)

// CodeNotifier delivers a freshly issued code out of band.
type CodeNotifier interface {
	SendCode(ctx context.Context, identity, code string) error
}

// LogNotifier only records that a code went out; delivery is someone else's job.
type LogNotifier struct{}

func (LogNotifier) SendCode(_ context.Context, identity, _ string) error {
	utils.Log.Info("[Verification] code issued", zap.String("identity", identity))
	return nil
}

// VerificationService runs the one-time code flow: rate-limited issuance,
// expiring codes, attempt-limited single-use validation.
type VerificationService struct {
	DB              *gorm.DB
	Notifier        CodeNotifier
	ReissueInterval time.Duration
	TTL             time.Duration
	MaxAttempts     int
	BcryptCost      int
}

func NewVerificationService(db *gorm.DB, notifier CodeNotifier) *VerificationService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &VerificationService{
		DB:              db,
		Notifier:        notifier,
		ReissueInterval: DefaultCodeReissueInterval,
		TTL:             DefaultCodeTTL,
		MaxAttempts:     DefaultCodeMaxAttempts,
		BcryptCost:      bcrypt.DefaultCost,
	}
}

// Issue creates a new code for identity, replacing any earlier one, unless the
// previous code was issued less than ReissueInterval ago.
func (s *VerificationService) Issue(ctx context.Context, identity string) (*models.VerificationCode, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrForbidden
	}

	code, err := randomCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := timeNow()
	rec := models.VerificationCode{
		Identity:  identity,
		CodeHash:  string(hash),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.TTL),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev models.VerificationCode
		err := tx.Where("identity = ?", identity).First(&prev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// issued concurrently
				return ErrRateLimited
			}
			return nil
		}
		if err != nil {
			return err
		}
		if now.Before(prev.IssuedAt.Add(s.ReissueInterval)) {
			return ErrRateLimited
		}
		// replace only the code that was read, so concurrent reissues yield one code
		res := tx.Model(&models.VerificationCode{}).
			Where("identity = ? AND issued_at = ?", identity, prev.IssuedAt).
			Updates(map[string]any{
				"code_hash":   rec.CodeHash,
				"issued_at":   rec.IssuedAt,
				"expires_at":  rec.ExpiresAt,
				"attempts":    0,
				"consumed_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRateLimited
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.Notifier.SendCode(ctx, identity, code); err != nil {
		utils.Log.Warn("[Verification] delivery failed", zap.String("identity", identity), zap.Error(err))
	}
	return &rec, nil
}

// Validate consumes the outstanding code if code matches. Every wrong guess
// counts; at MaxAttempts the code is locked for good.
func (s *VerificationService) Validate(ctx context.Context, identity, code string) error {
	var mismatch bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.VerificationCode
		if err := tx.Where("identity = ?", identity).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if rec.ConsumedAt != nil {
			return ErrCodeConsumed
		}
		if rec.Attempts >= s.MaxAttempts {
			return ErrCodeLocked
		}
		now := timeNow()
		if !now.Before(rec.ExpiresAt) {
			return ErrCodeExpired
		}

		// Claim the attempt before comparing so concurrent guesses cannot
		// all slip under the limit.
		claim := tx.Model(&models.VerificationCode{}).
			Where("identity = ? AND issued_at = ? AND attempts < ? AND consumed_at IS NULL", identity, rec.IssuedAt, s.MaxAttempts).
			Update("attempts", gorm.Expr("attempts + 1"))
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return s.claimFailure(tx, identity)
		}

		if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
			mismatch = true
			return nil
		}

		res := tx.Model(&models.VerificationCode{}).
			Where("identity = ? AND consumed_at IS NULL", identity).
			Update("consumed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeConsumed
		}
		return nil
	})
	if err != nil {
		return err
	}
	if mismatch {
		return ErrCodeMismatch
	}
	return nil
}

// claimFailure explains why an attempt could not be claimed on a code that
// looked usable when read.
func (s *VerificationService) claimFailure(tx *gorm.DB, identity string) error {
	var rec models.VerificationCode
	if err := tx.Where("identity = ?", identity).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCodeNotFound
		}
		return err
	}
	if rec.ConsumedAt != nil {
		return ErrCodeConsumed
	}
	if rec.Attempts >= s.MaxAttempts {
		return ErrCodeLocked
	}
	// reissued in between; the guess was for the old code
	return ErrCodeMismatch
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
