package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"go.uber.org/zap"
)

// QuotaChecker flags bots that went over their daily request quota. It only
// records the fact; enforcement belongs to whoever reads QuotaExceededAt.
type QuotaChecker struct {
	repo   store.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewQuotaChecker(repo store.Repository, logger *zap.Logger) *QuotaChecker {
	return &QuotaChecker{repo: repo, logger: logger, now: time.Now}
}

// Check counts the bot's requests since UTC midnight and marks the bot when
// the count exceeds its quota. It reports whether the bot is over quota.
func (q *QuotaChecker) Check(ctx context.Context, bot *model.Bot) (bool, error) {
	if bot == nil || bot.DailyQuota <= 0 {
		return false, nil
	}

	now := q.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := q.repo.Usage().CountSince(ctx, bot.ID, midnight)
	if err != nil {
		return false, fmt.Errorf("count usage: %w", err)
	}
	if count <= bot.DailyQuota {
		return false, nil
	}

	if bot.QuotaExceededAt.Valid && !bot.QuotaExceededAt.Time.Before(midnight) {
		return true, nil
	}

	if err := q.repo.Bots().MarkQuotaExceeded(ctx, bot.ID, now); err != nil {
		return true, fmt.Errorf("mark quota exceeded: %w", err)
	}
	q.logger.Warn("Bot exceeded daily quota",
		zap.String("bot_id", bot.ID),
		zap.Int64("quota", bot.DailyQuota),
		zap.Int64("count", count),
	)
	return true, nil
}
