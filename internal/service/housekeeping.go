package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunHousekeeping периодически удаляет истёкшие запросы на вход, пока не отменён ctx.
func (s *Service) RunHousekeeping(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.purgeExpiredChallenges(ctx)
		}
	}
}

func (s *Service) purgeExpiredChallenges(ctx context.Context) {
	n, err := s.repo.DeleteExpiredLoginChallenges(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("purge expired login challenges", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired login challenges purged", zap.Int64("count", n))
	}
}
