package redis

import (
	"context"
	"errors"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GUIDE STATUS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// GuideStatusCache holds recent guide status and cooldown reads so the
// coordinator can pre-check submissions without a settlement round trip.
//
// A nil *GuideStatusCache is valid and caches nothing, which is how the
// coordinator runs when Redis is disabled. Redis failures degrade to misses;
// they are logged and never surfaced to callers.
type GuideStatusCache struct {
	cache *Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewGuideStatusCache creates a guide status cache over an established
// connection. A non-positive ttl falls back to TTLGuideStatus.
func NewGuideStatusCache(cache *Cache, ttl time.Duration, log *logger.Logger) *GuideStatusCache {
	if ttl <= 0 {
		ttl = TTLGuideStatus
	}
	return &GuideStatusCache{
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

// cachedGuideStatus is the stored form of a vault.GuideStatus read.
type cachedGuideStatus struct {
	PaidAmount uint64 `json:"paid_amount"`
	CanSubmit  bool   `json:"can_submit"`
}

// GetGuideStatus returns a cached status read, or found=false on a miss.
func (g *GuideStatusCache) GetGuideStatus(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (vault.GuideStatus, bool) {
	if g == nil || g.cache == nil {
		return vault.GuideStatus{}, false
	}

	key := GuideStatusKey(uint64(courseID), uint64(guide), string(student))

	var stored cachedGuideStatus
	if err := g.cache.Get(ctx, key, &stored); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			g.log.Warn("guide status cache read failed", logger.Err(err), logger.CourseID(uint64(courseID)), logger.Student(string(student)))
		}
		return vault.GuideStatus{}, false
	}

	return vault.GuideStatus{
		PaidAmount: shared.Amount(stored.PaidAmount),
		CanSubmit:  stored.CanSubmit,
	}, true
}

// SetGuideStatus stores a status read for the configured TTL.
func (g *GuideStatusCache) SetGuideStatus(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress, status vault.GuideStatus) {
	if g == nil || g.cache == nil {
		return
	}

	key := GuideStatusKey(uint64(courseID), uint64(guide), string(student))
	stored := cachedGuideStatus{
		PaidAmount: uint64(status.PaidAmount),
		CanSubmit:  status.CanSubmit,
	}

	if err := g.cache.Set(ctx, key, stored, g.ttl); err != nil {
		g.log.Warn("guide status cache write failed", logger.Err(err), logger.CourseID(uint64(courseID)), logger.Student(string(student)))
	}
}

// GetCanSubmit returns a cached cooldown check, or found=false on a miss.
func (g *GuideStatusCache) GetCanSubmit(ctx context.Context, courseID shared.CourseID, student shared.StudentAddress) (canSubmit, found bool) {
	if g == nil || g.cache == nil {
		return false, false
	}

	key := CanSubmitKey(uint64(courseID), string(student))

	var stored bool
	if err := g.cache.Get(ctx, key, &stored); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			g.log.Warn("cooldown cache read failed", logger.Err(err), logger.CourseID(uint64(courseID)), logger.Student(string(student)))
		}
		return false, false
	}

	return stored, true
}

// SetCanSubmit stores a cooldown check.
//
// A negative answer is pinned for the full TTL. A positive answer is only
// held briefly: once a submission lands the student's cooldown restarts, and
// a long-lived positive would invite rejected submissions.
func (g *GuideStatusCache) SetCanSubmit(ctx context.Context, courseID shared.CourseID, student shared.StudentAddress, canSubmit bool) {
	if g == nil || g.cache == nil {
		return
	}

	ttl := g.ttl
	if canSubmit && ttl > 5*time.Second {
		ttl = 5 * time.Second
	}

	key := CanSubmitKey(uint64(courseID), string(student))
	if err := g.cache.Set(ctx, key, canSubmit, ttl); err != nil {
		g.log.Warn("cooldown cache write failed", logger.Err(err), logger.CourseID(uint64(courseID)), logger.Student(string(student)))
	}
}

// InvalidateStudent drops a student's cached reads for one course. Called
// after any confirmed submission, which both restarts the cooldown and may
// have paid the guide.
func (g *GuideStatusCache) InvalidateStudent(ctx context.Context, courseID shared.CourseID, student shared.StudentAddress) {
	if g == nil || g.cache == nil {
		return
	}

	keys := []string{CanSubmitKey(uint64(courseID), string(student))}
	pattern := PrefixGuideStatus + "*:" + string(student)

	if err := g.cache.Delete(ctx, keys...); err != nil {
		g.log.Warn("cooldown cache invalidation failed", logger.Err(err), logger.CourseID(uint64(courseID)), logger.Student(string(student)))
	}
	if err := g.cache.DeleteByPattern(ctx, pattern); err != nil {
		g.log.Warn("guide status cache invalidation failed", logger.Err(err), logger.Student(string(student)))
	}
}
