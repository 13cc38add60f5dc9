package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"match-sync-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *captureNotifier) SendCode(_ context.Context, identity, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[identity] = code
	return nil
}

func (n *captureNotifier) last(identity string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[identity]
}

func newVerification(t *testing.T) (*VerificationService, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	svc := NewVerificationService(newTestDB(t), n)
	svc.BcryptCost = bcrypt.MinCost
	return svc, n
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestVerification_IssueAndValidateOnce(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()

	rec, err := svc.Issue(ctx, "alice")
	require.NoError(t, err)
	code := n.last("alice")
	assert.Len(t, code, 6)
	assert.NotEqual(t, code, rec.CodeHash, "only the hash is stored")

	require.NoError(t, svc.Validate(ctx, "alice", code))
	assert.ErrorIs(t, svc.Validate(ctx, "alice", code), ErrCodeConsumed)
}

func TestVerification_ReissueIsRateLimited(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	freezeTime(t, start)

	_, err := svc.Issue(ctx, "alice")
	require.NoError(t, err)
	first := n.last("alice")

	freezeTime(t, start.Add(30*time.Second))
	_, err = svc.Issue(ctx, "alice")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, first, n.last("alice"))
	require.NoError(t, svc.Validate(ctx, "alice", first), "a refused reissue leaves the old code intact")

	freezeTime(t, start.Add(61*time.Second))
	_, err = svc.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Validate(ctx, "alice", n.last("alice")), "a reissue resets the consumed flag")
}

func TestVerification_Expiry(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	freezeTime(t, start)

	_, err := svc.Issue(ctx, "bob")
	require.NoError(t, err)

	freezeTime(t, start.Add(svc.TTL))
	assert.ErrorIs(t, svc.Validate(ctx, "bob", n.last("bob")), ErrCodeExpired)
}

func TestVerification_LockoutAfterMaxAttempts(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "carol")
	require.NoError(t, err)
	code := n.last("carol")

	for i := 0; i < DefaultCodeMaxAttempts; i++ {
		assert.ErrorIs(t, svc.Validate(ctx, "carol", wrongCode(code)), ErrCodeMismatch)
	}
	assert.ErrorIs(t, svc.Validate(ctx, "carol", code), ErrCodeLocked, "even the right code is refused once locked")

	var rec models.VerificationCode
	require.NoError(t, svc.DB.Where("identity = ?", "carol").First(&rec).Error)
	assert.Equal(t, DefaultCodeMaxAttempts, rec.Attempts)
	assert.Nil(t, rec.ConsumedAt)
}

func TestVerification_UnknownIdentity(t *testing.T) {
	svc, _ := newVerification(t)
	assert.ErrorIs(t, svc.Validate(context.Background(), "nobody", "123456"), ErrCodeNotFound)
}

// onFirstCodeRead runs fn right after the first read of a verification code,
// inside the caller's transaction, standing in for a request that commits in
// between.
func onFirstCodeRead(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	var once sync.Once
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:interleave", func(tx *gorm.DB) {
		if tx.Statement.Table == "verification_codes" {
			once.Do(func() { fn(tx) })
		}
	}))
}

func TestVerification_AttemptIsClaimedBeforeCompare(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "dave")
	require.NoError(t, err)
	code := n.last("dave")
	require.NoError(t, svc.DB.Model(&models.VerificationCode{}).
		Where("identity = ?", "dave").Update("attempts", DefaultCodeMaxAttempts-1).Error)

	onFirstCodeRead(t, svc.DB, func(tx *gorm.DB) {
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE verification_codes SET attempts = attempts + 1 WHERE identity = ?", "dave")
		require.NoError(t, err)
	})

	assert.ErrorIs(t, svc.Validate(ctx, "dave", code), ErrCodeLocked, "the last attempt went to the other guess")

	var rec models.VerificationCode
	require.NoError(t, svc.DB.Where("identity = ?", "dave").First(&rec).Error)
	assert.Equal(t, DefaultCodeMaxAttempts, rec.Attempts)
	assert.Nil(t, rec.ConsumedAt)
}

func TestVerification_ConcurrentReissueYieldsOneCode(t *testing.T) {
	svc, n := newVerification(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	freezeTime(t, start)

	_, err := svc.Issue(ctx, "erin")
	require.NoError(t, err)
	first := n.last("erin")

	freezeTime(t, start.Add(2*time.Minute))
	onFirstCodeRead(t, svc.DB, func(tx *gorm.DB) {
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE verification_codes SET issued_at = ? WHERE identity = ?", start.Add(90*time.Second), "erin")
		require.NoError(t, err)
	})

	_, err = svc.Issue(ctx, "erin")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, first, n.last("erin"), "no second code was sent")
}
